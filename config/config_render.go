package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/defibridge/bridgedata/log"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
	// typeMark keeps an unquoted var parseable as a TOML string until it is rendered
	typeMark = ":int"
)

var (
	ErrCycleVars                 = fmt.Errorf("cycle vars")
	ErrMissingVars               = fmt.Errorf("missing vars")
	ErrUnsupportedConfigFileType = fmt.Errorf("unsupported config file type")

	bareVarRe   = regexp.MustCompile(`=\s*\{\{([^}:]+)\}\}`)
	quotedVarRe = regexp.MustCompile(`=\s*\"\{\{([^}:]+` + typeMark + `)\}\}\"`)
	markedVarRe = regexp.MustCompile(`\{\{([^}:]+` + typeMark + `)\}\}`)
)

// FileData is a named TOML document
type FileData struct {
	Name    string
	Content string
}

// Renderer merges TOML documents (later ones win) and resolves the {{var}}
// references inside them. A var is looked up first in the environment as
// <EnvPrefix>_<var> and then in the merged document itself.
type Renderer struct {
	Files     []FileData
	LookupEnv func(key string) (string, bool)
	EnvPrefix string
}

// NewConfigRender returns a Renderer reading the process environment
func NewConfigRender(files []FileData, envPrefix string) *Renderer {
	return &Renderer{
		Files:     files,
		LookupEnv: os.LookupEnv,
		EnvPrefix: envPrefix,
	}
}

// Render merges the files and resolves every var
func (r *Renderer) Render() (string, error) {
	merged, err := r.Merge()
	if err != nil {
		return "", fmt.Errorf("fail to merge files. Err: %w", err)
	}
	return r.ResolveVars(merged)
}

// Merge returns the union of the files without resolving any var
func (r *Renderer) Merge() (string, error) {
	k := koanf.New(".")
	for _, f := range r.Files {
		content := markBareVars(f.Content)
		if err := k.Load(rawbytes.Provider([]byte(content)), toml.Parser()); err != nil {
			log.Errorf("error loading file %s. Err:%v. Content: %v", f.Name, err, content)
			return "", fmt.Errorf("fail to load %s as toml. Err: %w", f.Name, err)
		}
	}
	out, err := k.Marshal(toml.Parser())
	if err != nil {
		return "", fmt.Errorf("fail to marshal to toml. Err: %w", err)
	}
	return RemoveQuotesForVars(string(out)), nil
}

// ResolveVars replaces the vars of data. Vars without a value anywhere are
// reported as ErrMissingVars, vars that only reference each other as ErrCycleVars.
func (r *Renderer) ResolveVars(data string) (string, error) {
	tpl, values, err := r.parse(data)
	if err != nil {
		return "", err
	}
	rendered := RemoveTypeMarks(r.execute(tpl, values))
	if missing := r.missingVars(tpl, values); len(missing) > 0 {
		return rendered, fmt.Errorf("missing vars: %v. Err: %w", missing, ErrMissingVars)
	}
	resolved, err := r.resolveChains(rendered)
	if err != nil {
		return data, err
	}
	return resolved, nil
}

// resolveChains renders data again until no var is left. A pass that leaves
// the same number of vars means they reference each other.
func (r *Renderer) resolveChains(data string) (string, error) {
	current := RemoveQuotesForVars(data)
	pending := templateVars(current)
	if len(pending) == 0 {
		return data, nil
	}
	log.Debugf("resolving chained vars: %v", pending)
	for len(pending) > 0 {
		tpl, values, err := r.parse(current)
		if err != nil {
			return "", fmt.Errorf("fails to read template resolving chained vars. Err: %w", err)
		}
		next := RemoveTypeMarks(RemoveQuotesForVars(r.execute(tpl, values)))
		left := templateVars(next)
		if len(left) == len(pending) {
			return data, fmt.Errorf("not resolved cycle vars: %v. Err: %w", left, ErrCycleVars)
		}
		current, pending = next, left
	}
	return current, nil
}

// parse returns data as a template plus the values it defines. Vars must be
// unquoted: A={{B}}, not A="{{B}}".
func (r *Renderer) parse(data string) (*fasttemplate.Template, map[string]interface{}, error) {
	tpl, err := fasttemplate.NewTemplate(data, startTag, endTag)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to load template. Err:%w", err)
	}
	k := koanf.New(".")
	content := markBareVars(data)
	if err := k.Load(rawbytes.Provider([]byte(content)), toml.Parser()); err != nil {
		return nil, nil, fmt.Errorf("error parsing content: %s. Err: %w", content, err)
	}
	return tpl, k.All(), nil
}

func (r *Renderer) execute(tpl *fasttemplate.Template, values map[string]interface{}) string {
	return tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if v, ok := r.fromEnv(tag); ok {
			return w.Write([]byte(v))
		}
		if v, ok := values[tag]; ok {
			return w.Write([]byte(fmt.Sprintf("%v", v)))
		}
		return w.Write([]byte(startTag + tag + endTag))
	})
}

// missingVars returns the vars of tpl defined neither in values nor in the environment
func (r *Renderer) missingVars(tpl *fasttemplate.Template, values map[string]interface{}) []string {
	var missing []string
	seen := map[string]struct{}{}
	tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if _, ok := r.fromEnv(tag); ok {
			return 0, nil
		}
		if _, ok := values[tag]; ok {
			return 0, nil
		}
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			missing = append(missing, tag)
		}
		return 0, nil
	})
	return missing
}

func (r *Renderer) fromEnv(tag string) (string, bool) {
	return r.LookupEnv(r.EnvPrefix + "_" + strings.ReplaceAll(tag, ".", "_"))
}

func templateVars(data string) []string {
	tpl, err := fasttemplate.NewTemplate(data, startTag, endTag)
	if err != nil {
		return nil
	}
	var vars []string
	tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		vars = append(vars, tag)
		return 0, nil
	})
	return vars
}

// markBareVars turns A={{B}} into A="{{B:int}}"
func markBareVars(data string) string {
	return bareVarRe.ReplaceAllString(data, `= "{{${1}`+typeMark+`}}"`)
}

// RemoveQuotesForVars turns A="{{B:int}}" back into A={{B}}
func RemoveQuotesForVars(data string) string {
	return quotedVarRe.ReplaceAllStringFunc(data, func(match string) string {
		sub := quotedVarRe.FindStringSubmatch(match)
		return "= " + startTag + strings.TrimSuffix(sub[1], typeMark) + endTag
	})
}

// RemoveTypeMarks turns {{B:int}} into {{B}}
func RemoveTypeMarks(data string) string {
	return markedVarRe.ReplaceAllStringFunc(data, func(match string) string {
		sub := markedVarRe.FindStringSubmatch(match)
		return startTag + strings.TrimSuffix(sub[1], typeMark) + endTag
	})
}

func readFileToString(filename string) (string, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func convertFileToToml(fileData string, fileType string) (string, error) {
	switch strings.ToLower(fileType) {
	case "json":
		k := koanf.New(".")
		if err := k.Load(rawbytes.Provider([]byte(fileData)), json.Parser()); err != nil {
			return fileData, fmt.Errorf("error loading json file. Err: %w", err)
		}
		tomlData, err := toml.Parser().Marshal(k.Raw())
		if err != nil {
			return fileData, fmt.Errorf("error converting json to toml. Err: %w", err)
		}
		return string(tomlData), nil
	case "yml", "yaml", "ini":
		return fileData, fmt.Errorf("cant convert from %s to TOML. Err: %w", fileType, ErrUnsupportedConfigFileType)
	default:
		log.Warnf("filetype %s unknown, assuming is a TOML file", fileType)
		return fileData, nil
	}
}

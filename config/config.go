package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jRPC "github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/defibridge/bridgedata/bridge/tranche"
	"github.com/defibridge/bridgedata/etherman"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/lifecycle"
	"github.com/defibridge/bridgedata/log"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	// FlagCfg is the flag for cfg.
	FlagCfg = "cfg"
	// FlagComponents is the flag for components.
	FlagComponents = "components"
	// FlagSaveConfigPath is the flag to save the final configuration file
	FlagSaveConfigPath = "save-config-path"
	// FlagSimulated runs against the in-memory ledger instead of the configured chain
	FlagSimulated = "simulated"
	// FlagMinConfig prints only the values without a default
	FlagMinConfig = "min"

	deprecatedFieldPersistenceFilename = "EthTxManager.PersistenceFilename is deprecated." +
		" Use EthTxManager.StoragePath instead."

	EnvVarPrefix       = "BRIDGEDATA"
	ConfigType         = "toml"
	SaveConfigFileName = "bridgedata_config.toml"

	DefaultCreationFilePermissions = os.FileMode(0600)
)

type ForbiddenField struct {
	FieldName string
	Reason    string
}

var (
	forbiddenFieldsOnConfig = []ForbiddenField{
		{
			FieldName: "ledger.ethtxmanager.persistencefilename",
			Reason:    deprecatedFieldPersistenceFilename,
		},
	}
)

// RegistryConfig is the configuration of the interaction registry
type RegistryConfig struct {
	// DBPath is the path of the sqlite database
	DBPath string `mapstructure:"DBPath"`
}

/*
Config represents the configuration of the bridgedata node
The file is [TOML format]

[TOML format]: https://en.wikipedia.org/wiki/TOML
*/
type Config struct {
	// Configure Log level for all the services, allow also to store the logs in a file
	Log log.Config
	// Configuration of the client of the chain hosting the dispatcher
	Etherman etherman.Config
	// Configuration of the dispatcher adapter and its transaction manager
	Ledger ledger.EVMConfig
	// Configuration of the in-memory ledger used with --simulated
	Simulated ledger.SimulatedConfig
	// Configuration of the local interaction registry
	Registry RegistryConfig
	// Configuration of the entry event index
	EventIndex eventindex.Config
	// Tranches are the tranche bridge adapters to register
	Tranches []tranche.Config
	// Configuration of the lifecycle coordinator
	Lifecycle lifecycle.Config
	// Configuration of the loop finalising ready interactions
	AutoFinaliser lifecycle.AutoFinaliserConfig
	// RPC is the config for the RPC server
	RPC jRPC.Config
}

// Load loads the configuration
func Load(ctx *cli.Context) (*Config, error) {
	configFilePath := ctx.StringSlice(FlagCfg)
	filesData, err := readFiles(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading files:  Err:%w", err)
	}
	saveConfigPath := ctx.String(FlagSaveConfigPath)
	return LoadFile(filesData, saveConfigPath)
}

func readFiles(files []string) ([]FileData, error) {
	result := make([]FileData, 0, len(files))
	for _, file := range files {
		fileContent, err := readFileToString(file)
		if err != nil {
			return nil, fmt.Errorf("error reading file content: %s. Err:%w", file, err)
		}
		if ext := getFileExtension(file); ext != ConfigType {
			fileContent, err = convertFileToToml(fileContent, ext)
			if err != nil {
				return nil, fmt.Errorf("error converting file: %s from %s to TOML. Err:%w", file, ext, err)
			}
		}
		result = append(result, FileData{Name: file, Content: fileContent})
	}
	return result, nil
}

func getFileExtension(fileName string) string {
	return fileName[strings.LastIndex(fileName, ".")+1:]
}

// LoadFileFromString decodes an already rendered configuration
func LoadFileFromString(configFileData string, configType string) (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	if err := loadString(v, cfg, configFileData, configType, EnvVarPrefix); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfigToString renders cfg as TOML
func SaveConfigToString(cfg Config) (string, error) {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LoadFile merges the defaults with files, renders the vars and decodes the result
func LoadFile(files []FileData, saveConfigPath string) (*Config, error) {
	fileData := make([]FileData, 0, len(files)+3)
	fileData = append(fileData, FileData{Name: "default_mandatory_vars", Content: DefaultMandatoryVars})
	fileData = append(fileData, FileData{Name: "default_vars", Content: DefaultVars})
	fileData = append(fileData, FileData{Name: "default_values", Content: DefaultValues})
	fileData = append(fileData, files...)

	renderedCfg, err := NewConfigRender(fileData, EnvVarPrefix).Render()
	if err != nil {
		return nil, err
	}
	if saveConfigPath != "" {
		fullPath := filepath.Join(saveConfigPath, SaveConfigFileName)
		if err := os.WriteFile(fullPath, []byte(renderedCfg), DefaultCreationFilePermissions); err != nil {
			err = fmt.Errorf("error writing config file: %s. Err: %w", fullPath, err)
			log.Error(err)
			return nil, err
		}
	}
	return LoadFileFromString(renderedCfg, ConfigType)
}

func loadString(v *viper.Viper, cfg *Config, configData string, configType string, envPrefix string) error {
	v.SetConfigType(configType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewBufferString(configData)); err != nil {
		return err
	}
	decodeHooks := []viper.DecoderConfigOption{
		// this allows arrays to be decoded from env var separated by ",", example: MY_VAR="value1,value2,value3"
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(), mapstructure.StringToSliceHookFunc(","))),
	}
	if err := v.Unmarshal(cfg, decodeHooks...); err != nil {
		return err
	}

	for _, key := range v.AllKeys() {
		if forbidden := getForbiddenField(key); forbidden != nil {
			log.Warnf("forbidden field %s in config file: %s", key, forbidden.Reason)
		}
	}
	return nil
}

func getForbiddenField(fieldName string) *ForbiddenField {
	for _, forbiddenField := range forbiddenFieldsOnConfig {
		if forbiddenField.FieldName == fieldName || strings.HasPrefix(fieldName, forbiddenField.FieldName) {
			return &forbiddenField
		}
	}
	return nil
}

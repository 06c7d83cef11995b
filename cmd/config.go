package main

import (
	"fmt"
	"io"
	"os"

	"github.com/defibridge/bridgedata/config"
	"github.com/urfave/cli/v2"
)

// configCmd prints a configuration file to start from. Every {{var}} can also
// be set through the environment as BRIDGEDATA_<var>.
func configCmd(cliCtx *cli.Context) error {
	return writeDefaultConfig(os.Stdout, cliCtx.Bool(config.FlagMinConfig))
}

func writeDefaultConfig(w io.Writer, onlyMandatory bool) error {
	sections := []string{config.DefaultMandatoryVars}
	if !onlyMandatory {
		sections = append(sections, config.DefaultVars, config.DefaultValues)
	}
	if _, err := fmt.Fprintf(w, "# env var prefix: %s_\n", config.EnvVarPrefix); err != nil {
		return err
	}
	for _, section := range sections {
		if _, err := io.WriteString(w, section); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"os"

	"github.com/defibridge/bridgedata"
	"github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/config"
	"github.com/defibridge/bridgedata/log"
	"github.com/urfave/cli/v2"
)

const appName = "bridgedata"

var (
	configFileFlag = cli.StringSliceFlag{
		Name:     config.FlagCfg,
		Aliases:  []string{"c"},
		Usage:    "Configuration file(s)",
		Required: true,
	}
	componentsFlag = cli.StringSliceFlag{
		Name:     config.FlagComponents,
		Aliases:  []string{"co"},
		Usage:    "List of components to run",
		Required: false,
		Value:    cli.NewStringSlice(common.RPC, common.AUTO_FINALISER),
	}
	saveConfigFlag = cli.StringFlag{
		Name:     config.FlagSaveConfigPath,
		Aliases:  []string{"s"},
		Usage:    "Save final configuration into to the indicated path (name: " + config.SaveConfigFileName + ")",
		Required: false,
	}
	simulatedFlag = cli.BoolFlag{
		Name:     config.FlagSimulated,
		Usage:    "Run against an in-memory ledger instead of the configured chain",
		Required: false,
	}
	minConfigFlag = cli.BoolFlag{
		Name:     config.FlagMinConfig,
		Usage:    "Print only the mandatory vars",
		Required: false,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Version = bridgedata.Version
	app.Commands = []*cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Application version and build",
			Action:  versionCmd,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the bridgedata node",
			Action:  start,
			Flags: []cli.Flag{
				&configFileFlag,
				&componentsFlag,
				&saveConfigFlag,
				&simulatedFlag,
			},
		},
		{
			Name:    "config",
			Aliases: []string{},
			Usage:   "Print the default configuration",
			Action:  configCmd,
			Flags:   []cli.Flag{&minConfigFlag},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

func versionCmd(*cli.Context) error {
	bridgedata.PrintVersion(os.Stdout)
	return nil
}

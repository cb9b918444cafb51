// Command ledgerctl lists and edits loans through the cached, optimistic sync
// layer, and can serve the inspection API.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"ledger-sync/pkg/config"

	"github.com/urfave/cli"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(app.ErrWriter, "error: %s\n", err)
		}
		os.Exit(1)
	}
}

func newApp(w, e io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "ledgerctl"
	app.Usage = "track money lent and borrowed"
	app.Version = version

	app.Writer = w
	app.ErrWriter = e
	app.Metadata = map[string]interface{}{}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "",
			Usage:  " YAML configuration `FILE`",
			EnvVar: "LEDGER_CONFIG",
		},
		cli.StringFlag{
			Name:  "api, a",
			Value: "",
			Usage: " loan service base `URL` (overrides the configuration)",
		},
		cli.StringFlag{
			Name:  "prefs",
			Value: "",
			Usage: " preferences database `DIR` (overrides the configuration)",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " log at debug level",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "list",
			Usage:     "list loans with their outstanding totals",
			ArgsUsage: " ",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "closed",
					Usage: " include closed loans",
				},
				cli.StringFlag{
					Name:  "filter, f",
					Usage: " preset date filter `NAME` [lastweek|lastmonth|lastyear]",
				},
				cli.StringFlag{
					Name:  "from",
					Usage: " start `DATE` of a custom range (YYYY-MM-DD)",
				},
				cli.StringFlag{
					Name:  "to",
					Usage: " end `DATE` of a custom range (YYYY-MM-DD)",
				},
				cli.BoolFlag{
					Name:  "save",
					Usage: " remember these filters as the default",
				},
			},
			Action: runList,
		},
		{
			Name:      "show",
			Usage:     "show one loan and its installments",
			ArgsUsage: "LOAN_ID",
			Action:    runShow,
		},
		{
			Name:      "close",
			Usage:     "mark a loan as closed",
			ArgsUsage: "LOAN_ID",
			Action:    runClose,
		},
		{
			Name:      "delete",
			Usage:     "delete a loan without installments",
			ArgsUsage: "LOAN_ID",
			Action:    runDelete,
		},
		{
			Name:      "pay",
			Usage:     "record an installment against a loan",
			ArgsUsage: "LOAN_ID AMOUNT",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "date, d",
					Usage: " payment `DATE` (YYYY-MM-DD, default today)",
				},
				cli.StringFlag{
					Name:  "method, m",
					Usage: " payment method `ID`",
				},
				cli.StringFlag{
					Name:  "notes, n",
					Usage: " free text `NOTES`",
				},
			},
			Action: runPay,
		},
		{
			Name:      "unpay",
			Usage:     "delete an installment",
			ArgsUsage: "LOAN_ID INSTALLMENT_ID",
			Action:    runUnpay,
		},
		{
			Name:   "methods",
			Usage:  "list payment methods",
			Action: runMethods,
		},
		{
			Name:  "serve",
			Usage: "serve the inspection API",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "addr",
					Usage: " listen `ADDRESS` (overrides the configuration)",
				},
			},
			Action: runServe,
		},
	}

	app.Before = func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("config"))
		if err != nil {
			return err
		}
		if v := c.GlobalString("api"); v != "" {
			cfg.API.BaseURL = v
		}
		if v := c.GlobalString("prefs"); v != "" {
			cfg.PrefsPath = v
		}
		if c.GlobalBool("verbose") {
			cfg.Logging.Level = "debug"
		}
		c.App.Metadata["config"] = cfg
		return nil
	}

	return app
}

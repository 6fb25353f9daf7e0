// Package main defines the transfer monitor daemon. It watches an EVM chain
// for native and token transfers to addresses of interest, confirms them at
// depth, and posts a webhook notification for every confirmed deposit.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/chainsentry/evm-transfer-monitor/cmd/flags"
	"github.com/chainsentry/evm-transfer-monitor/monitor/node"
	"github.com/chainsentry/evm-transfer-monitor/runtime/logging"
	"github.com/chainsentry/evm-transfer-monitor/runtime/prereqs"
	"github.com/chainsentry/evm-transfer-monitor/runtime/version"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.ConfigFileFlag,
	flags.ChainFlag,
	flags.VerbosityFlag,
	flags.LogFileFlag,
	flags.LogFormatFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.DisableMonitoringFlag,
	flags.DisableNotificationsFlag,
}

func startMonitor(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	monitor, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	monitor.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "evm-transfer-monitor"
	app.Usage = "watches an EVM chain for deposits, confirms them at depth, and posts webhook notifications"
	app.ArgsUsage = "[chain]"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startMonitor
	app.Before = func(ctx *cli.Context) error {
		format := ctx.String(flags.LogFormatFlag.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written we disable coloring:
			// the ANSI codes read as gibberish in the log files.
			formatter.DisableColors = ctx.String(flags.LogFileFlag.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileFlag.Name)
		if logFileName != "" {
			if err := logging.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Could not configure logging to disk")
			}
		}

		prereqs.WarnIfPlatformNotSupported(ctx.Context)
		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

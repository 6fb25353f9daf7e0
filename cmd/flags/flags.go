// Package flags defines the command-line surface shared by the monitor
// binary and the node bootstrap.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// ConfigFileFlag points at the YAML configuration file.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the YAML configuration file",
		Value: "config.yml",
	}
	// ChainFlag selects the chain to monitor from the config catalog. The
	// chain may also be given as the first positional argument; the flag
	// wins when both are set.
	ChainFlag = &cli.StringFlag{
		Name:  "chain",
		Usage: "Chain to monitor from the configuration catalog (defaults to active_chain)",
	}
	// VerbosityFlag defines the logrus verbosity.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFileFlag specifies the log file name, extra logs are written to it.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Write logs to the given file in addition to stdout",
	}
	// LogFormatFlag specifies the log output encoding.
	LogFormatFlag = &cli.GenericFlag{
		Name:  "log-format",
		Usage: "Log output encoding",
		Value: &EnumValue{
			Enum:  []string{"text", "fluentd", "json"},
			Value: "text",
		},
	}
	// MonitoringHostFlag overrides the configured admin/metrics listen host.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host for the admin and metrics HTTP server, overrides the config file",
	}
	// MonitoringPortFlag overrides the configured admin/metrics listen port.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port for the admin and metrics HTTP server, overrides the config file",
	}
	// DisableMonitoringFlag turns the admin/metrics server off entirely.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Do not serve the admin and metrics HTTP endpoints",
	}
	// DisableNotificationsFlag turns webhook delivery off regardless of the
	// config file. Confirmed deposits are still recorded and picked up by
	// reconciliation once delivery is enabled again.
	DisableNotificationsFlag = &cli.BoolFlag{
		Name:  "disable-notifications",
		Usage: "Do not deliver webhook notifications for confirmed deposits",
	}
)

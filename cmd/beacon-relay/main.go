// Command beacon-relay runs the beacon event gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbogacz/beacon-relay-gateway/internal/config"
	"github.com/jbogacz/beacon-relay-gateway/internal/schema"
)

type rootFlags struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "beacon-relay",
		Short: "Validate beacon proximity events and relay them to a message bus",
		Long: `beacon-relay accepts beacon proximity events (ENTER, EXIT, RANGE_UPDATE)
over HTTP, validates them against the event schema and publishes them to
Kafka, NATS JetStream, MQTT or Redis Streams.

Configuration is read from the environment and, optionally, from a config
file given with --config. Environment variables take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "",
		"config file (yaml, toml or json) keyed like the environment variables")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(
		newServe(&flags),
		newSchema(&flags),
		newValidate(&flags),
	)
	return cmd
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func loadSchema(flags *rootFlags) (*schema.Schema, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return schema.New(cfg.SchemaOptions())
}

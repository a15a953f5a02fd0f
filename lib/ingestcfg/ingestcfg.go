// Package ingestcfg loads pw_ingest's configuration from a layered stack:
// defaults, an optional YAML/TOML config file, environment variables
// (PW_INGEST_*), then CLI flags, in that override order — the standard
// spf13/viper layering, completing what this repo's go.mod already
// declares but no retrieved file exercises.
package ingestcfg

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// Config is the resolved, layered configuration for a pw_ingest process.
type Config struct {
	ListenWebsocket string  `mapstructure:"listen_websocket"`
	ListenBeast     string  `mapstructure:"listen_beast"`
	RefLat          float64 `mapstructure:"ref_lat"`
	RefLon          float64 `mapstructure:"ref_lon"`

	BrokerURL     string `mapstructure:"broker_url"`
	BrokerSubject string `mapstructure:"broker_subject"`

	ArchivePostgresDSN string `mapstructure:"archive_postgres_dsn"`
}

// Load builds a Config from (in increasing priority) built-in defaults, an
// optional config file at configPath (if non-empty), PW_INGEST_* environment
// variables, and any matching flags already parsed onto c.
func Load(c *cli.Context, configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("pw_ingest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_websocket", ":8080")
	v.SetDefault("listen_beast", "")
	v.SetDefault("broker_subject", "pw-ingest.positions")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ingestcfg: reading %s: %w", configPath, err)
		}
	}

	for _, key := range []string{
		"listen-websocket", "listen-beast", "ref-lat", "ref-lon",
		"broker-url", "broker-subject", "archive-postgres-dsn",
	} {
		_ = v.BindEnv(strings.ReplaceAll(key, "-", "_"))
		if c.IsSet(key) {
			v.Set(strings.ReplaceAll(key, "-", "_"), c.String(key))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ingestcfg: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Flags are the CLI flags Load reads back out of a *cli.Context, layered
// in over the file/env config.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to a YAML or TOML config file"},
		&cli.StringFlag{Name: "listen-websocket", Usage: "address for the live websocket API to listen on"},
		&cli.StringFlag{Name: "listen-beast", Usage: "address for the standalone BEAST ingest listener to listen on"},
		&cli.Float64Flag{Name: "ref-lat", Usage: "reference latitude for CPR decode"},
		&cli.Float64Flag{Name: "ref-lon", Usage: "reference longitude for CPR decode"},
		&cli.StringFlag{Name: "broker-url", Usage: "NATS server URL for the optional broker fan-out"},
		&cli.StringFlag{Name: "broker-subject", Usage: "NATS subject prefix for the broker fan-out"},
		&cli.StringFlag{Name: "archive-postgres-dsn", Usage: "Postgres DSN for the optional trace archive"},
	}
}

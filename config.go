package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hotelhub/roomheating-exporter/internal/config"
)

var (
	configPath string
	location   string
)

func NewLogger(level string, outputs []string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = outputs
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func initCliFlags() {
	flag.StringVar(&configPath, "configFile", "config.yaml", "Path to the config.yaml File.")
	flag.StringVar(&location, "location", "", "Location id for the rooms, room, test, set and set-all commands. Defaults to the only configured location.")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [flags] [command]\n\nCommands:\n", os.Args[0])
		fmt.Fprintln(out, "  serve                       export room heating state (default)")
		fmt.Fprintln(out, "  rooms                       print the room list")
		fmt.Fprintln(out, "  room <room_id>              print the live detail of one room")
		fmt.Fprintln(out, "  test                        test the connection to the hub")
		fmt.Fprintln(out, "  set <entity_id> <temp>      set and verify the target of one thermostat")
		fmt.Fprintln(out, "  set-all <temp> <entity_id>...  set the target of several thermostats")
		fmt.Fprintln(out, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()
}

// initConfig loads the configuration and replaces the bootstrap logger with one
// built from the log section.
func initConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		sugar.Fatalf("Error while reading config file: %v", err)
	}

	logger, err := NewLogger(cfg.Log.Level, cfg.Log.Outputs)
	if err != nil {
		sugar.Errorf("Invalid log configuration, keeping defaults: %v", err)
	} else {
		sugar = logger.Sugar()
	}

	sugar.Infow("Configuration loaded",
		"file", configPath,
		"locations", cfg.LocationIDs(),
		"cache_backend", cfg.Cache.Backend,
		"metrics_port", cfg.Metrics.Port,
		"influxdb", cfg.InfluxDB.Enabled,
		"mqtt", cfg.MQTT.Enabled,
	)
	return cfg
}

// resolveLocation picks the -location flag or the only configured location.
func resolveLocation(cfg *config.Config) (string, error) {
	if location != "" {
		if _, err := cfg.Location(location); err != nil {
			return "", err
		}
		return location, nil
	}
	ids := cfg.LocationIDs()
	if len(ids) != 1 {
		return "", fmt.Errorf("-location is required, configured locations: %v", ids)
	}
	return ids[0], nil
}

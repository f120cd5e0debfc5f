package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hotelhub/roomheating-exporter/internal/cache"
	"github.com/hotelhub/roomheating-exporter/internal/config"
	"github.com/hotelhub/roomheating-exporter/internal/control"
	"github.com/hotelhub/roomheating-exporter/internal/heating"
)

var sugar *zap.SugaredLogger

func initLogger() {
	logger, _ := NewLogger("info", []string{"stdout", "roomheating_exporter.log"})
	sugar = logger.Sugar()
}

// capabilities grants the configured permissions of a location, or full
// access when none are listed.
func capabilities(settings config.LocationSettings) heating.Capabilities {
	if len(settings.Permissions) == 0 {
		return heating.Grant(heating.PermissionView, heating.PermissionControl)
	}
	return heating.Grant(settings.Permissions...)
}

func newSnapshotCache(ctx context.Context, cfg *config.Config) (cache.KVStore, func()) {
	if cfg.Cache.Backend != config.CacheBackendRedis {
		sugar.Info("Using in-memory snapshot cache")
		return cache.NewMemoryKVStore(), func() {}
	}

	sugar.Infof("Connecting to Redis at %s", cfg.Cache.Redis.Addr)
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		sugar.Fatalf("Failed to connect to Redis: %v", err)
	}
	return cache.NewRedisKVStore(client), func() { client.Close() }
}

func main() {
	initLogger()
	initCliFlags()
	cfg := initConfig()
	defer sugar.Sync() // flushes buffer, if any

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		sugar.Info("Catch Keyboard interrupt")
		cancel()
	}()

	kv, closeCache := newSnapshotCache(ctx, cfg)
	defer closeCache()

	service := heating.NewService(cfg, cfg, kv, control.Options{}, sugar.Desugar())

	args := flag.Args()
	if len(args) == 0 || args[0] == "serve" {
		serve(ctx, cfg, service)
		return
	}

	loc, err := resolveLocation(cfg)
	if err != nil {
		sugar.Fatal(err)
	}
	settings, _ := cfg.Location(loc)
	if err := runCommand(ctx, service, capabilities(settings), loc, args, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		sugar.Fatal(err)
	}
}

func serve(ctx context.Context, cfg *config.Config, service *heating.Service) {
	sugar.Info("Starting Room-Heating-Exporter")

	sugar.Info("Creating Metrics-Registry")
	// Create a non-global registry.
	reg := prometheus.NewRegistry()

	sugar.Info("Registering Metrics")
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	m := NewMetrics(reg)
	service.OnWrite(m.countCommand)

	sinks := []sink{m}
	if cfg.InfluxDB.Enabled {
		sugar.Infof("Writing rooms to InfluxDB %s, bucket %s", cfg.InfluxDB.Host, cfg.InfluxDB.Bucket)
		influx := newInfluxExporter(cfg.InfluxDB.Host, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
		defer influx.Close()
		sinks = append(sinks, influx)
	}
	if cfg.MQTT.Enabled {
		sugar.Infof("Publishing rooms to MQTT broker %s", cfg.MQTT.Broker)
		publisher, err := newMQTTPublisher(mqttOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			sugar.Fatal(err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	var wg sync.WaitGroup
	for _, id := range cfg.LocationIDs() {
		settings, _ := cfg.Location(id)
		if !settings.Enabled {
			sugar.Infof("Location %s is disabled, skipping", id)
			continue
		}
		e := newExporter(id, settings.RefreshDuration(), service, m, sinks, sugar)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Run(ctx)
		}()
	}

	// Expose metrics and custom registry via an HTTP server
	// using the HandleFor function. "/metrics" is the usual endpoint for that.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	sugar.Infof("Serving metrics on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatal(err)
	}
	wg.Wait()
}

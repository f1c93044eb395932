// Command sfu runs one node of the clustered SFU media plane: it loads
// configuration, bootstraps tracing, constructs a cluster.Dispatcher over
// an in-memory KV/pub-sub collaborator, drives it with a clock.Ticker, and
// serves the WHIP/WHEP/webrtc-connect HTTP surface of spec.md §6.
//
// Grounded on the teacher's cmd/sfu/main.go flag parsing, logging setup,
// profiling, and signal handling, with the Matrix sync loop replaced by
// the cluster dispatcher + HTTP server this module's domain calls for.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmesh-io/sfu/pkg/clock"
	"github.com/flowmesh-io/sfu/pkg/cluster"
	"github.com/flowmesh-io/sfu/pkg/collab/memory"
	"github.com/flowmesh-io/sfu/pkg/config"
	"github.com/flowmesh-io/sfu/pkg/endpoint/httpapi"
	"github.com/flowmesh-io/sfu/pkg/profiling"
	"github.com/flowmesh-io/sfu/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// Exit codes of spec §6/§7. exitClusterHandshake is unused by this
// in-memory single-process demo wiring (memory.KVMap/PubSub have no
// handshake of their own); a clustered deployment's real collaborator
// dial returns it here on failure.
const (
	exitClean            = 0
	exitConfigError      = 1
	exitClusterHandshake = 2
	exitFatalInvariant   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(*cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}

	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Error("could not load config")
		return exitConfigError
	}

	switch cfg.LogLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if cfg.Telemetry.OTLP.Host != "" {
		provider, err := telemetry.SetupTelemetry(cfg.Telemetry)
		if err != nil {
			logrus.WithError(err).Error("could not set up telemetry")
			return exitConfigError
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
	}

	// The in-memory collaborator is this module's single-process reference
	// implementation of the KV/pub-sub interfaces §6 abstracts over; a
	// clustered deployment swaps these for a real etcd/NATS-backed pair
	// without touching pkg/cluster, pkg/room, or pkg/directory.
	kv := memory.NewKVMap(cfg.Cluster.NodeID)
	pubsub := memory.NewPubSub(cfg.Cluster.NodeID)

	dispatcher := cluster.New(cfg.Cluster.NodeID, kv, pubsub)
	defer dispatcher.Close()

	tickInterval := clock.DefaultTick
	if cfg.Cluster.TickIntervalMs > 0 {
		tickInterval = time.Duration(cfg.Cluster.TickIntervalMs) * time.Millisecond
	}
	ticker := clock.Start(tickInterval, time.Now, dispatcher.OnTick)
	defer ticker.Stop()

	server := httpapi.NewServer(cfg.Cluster.NodeID, dispatcher, cfg.Cluster.MailboxSize)
	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: server.Handler()}

	serveErr := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.HTTP.ListenAddr).Info("listening for WHIP/WHEP/connect")
		serveErr <- httpServer.ListenAndServe()
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		logrus.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("http server failed")
			for _, fn := range deferredFunctions {
				fn()
			}
			return exitFatalInvariant
		}
	}

	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	for _, fn := range deferredFunctions {
		fn()
	}
	return exitClean
}

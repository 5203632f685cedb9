package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calliope-voice/calliope/internal/audio"
	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
	"github.com/calliope-voice/calliope/internal/config"
	"github.com/calliope-voice/calliope/internal/dtmf"
	"github.com/calliope-voice/calliope/internal/engine"
	"github.com/calliope-voice/calliope/internal/httpapi"
	"github.com/calliope-voice/calliope/internal/jobs"
	"github.com/calliope-voice/calliope/internal/observability"
	"github.com/calliope-voice/calliope/internal/provider"
	"github.com/calliope-voice/calliope/internal/recording"
	"github.com/calliope-voice/calliope/internal/telephony"
	"github.com/calliope-voice/calliope/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	observability.InitLogging(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := call.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call store init failed: %v", err)
	}
	defer store.Close()

	events := bus.New(observability.Component("bus"))

	registry := provider.NewRegistry()
	provider.RegisterMocks(registry)
	hub := telephony.NewHub(events, observability.Component("telephony"))
	registry.RegisterTelephony(telephony.ProviderName, hub.Factory())

	recorder, err := recording.NewService(recording.Options{
		LocalDir:           cfg.RecordingDir,
		MinMeaningfulBytes: cfg.RecordingMinChunkBytes,
		BufferChunks:       cfg.RecordingBufferChunks,
	}, store, nil, events, observability.Component("recording"))
	if err != nil {
		log.Fatalf("recording service init failed: %v", err)
	}

	usageSvc := usage.NewService(store, observability.Component("usage"))
	dtmfSvc := dtmf.NewService(dtmf.Options{
		ToneMs:  cfg.DTMFToneMs,
		PauseMs: cfg.DTMFPauseMs,
		Format:  audio.DefaultFormat,
	}, events, observability.Component("dtmf"))

	orchestrator := engine.NewOrchestrator(
		events,
		store,
		registry,
		recorder,
		usageSvc,
		dtmfSvc,
		metrics,
		engine.Options{
			HangupGrace:          cfg.HangupGrace,
			TransferGrace:        cfg.TransferGrace,
			GoodbyeText:          cfg.GoodbyeText,
			TransferAnnouncement: cfg.TransferAnnouncement,
		},
		observability.Component("engine"),
	)
	orchestrator.Wire()

	results := jobs.NewResultPublisher(cfg.KafkaBrokers, cfg.KafkaResultsTopic, cfg.ResultSettle, store, observability.Component("results"))
	results.Wire(events)
	defer results.Close()

	enqueuer := jobs.NewEnqueuer(cfg.KafkaBrokers, cfg.KafkaJobsTopic, events, observability.Component("enqueuer"))
	defer enqueuer.Close()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if len(cfg.KafkaBrokers) > 0 {
		consumer := jobs.NewConsumer(jobs.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaJobsTopic,
			GroupID: cfg.KafkaGroupID,
		}, store, events, metrics, observability.Component("jobs"))
		go func() {
			if err := consumer.Run(runCtx); err != nil {
				log.Printf("job consumer stopped: %v", err)
			}
		}()
	}

	api := httpapi.New(cfg, store, enqueuer, hub, dtmfSvc, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := orchestrator.Shutdown(drainCtx); err != nil {
		log.Printf("call drain incomplete: %v", err)
	}

	log.Printf("shutdown complete")
}

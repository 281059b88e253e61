package main

import (
	"os"

	"convoproxy/pkg/balancer"
	"convoproxy/pkg/config"
	"convoproxy/pkg/health"
	"convoproxy/pkg/log"
	"convoproxy/pkg/metrics"
	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"
	"convoproxy/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Initialize logger
	_ = log.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		log.SetDebugMode()
		log.Debug().Msg("Debug mode enabled")
	}

	reg := registry.New()
	for _, ep := range cfg.Endpoints {
		if err := reg.Add(models.NewEndpoint(ep.ID, ep.Address, ep.EffectiveWeight())); err != nil {
			log.Fatal().Err(err).Str("endpoint", ep.ID).Msg("Failed to register endpoint")
		}
	}

	log.Info().
		Int("endpoints", reg.Len()).
		Str("strategy", cfg.Strategy).
		Dur("probe_interval", cfg.ProbeInterval).
		Dur("dispatch_timeout", cfg.DispatchTimeout).
		Msg("Configured endpoint pool")

	promReg := prometheus.NewRegistry()
	events := metrics.NewEvents(promReg)
	collector := metrics.NewCollector(cfg.MetricsWindow, events)
	metrics.NewPoolCollector(promReg, reg)

	monitor := health.NewMonitor(reg, health.Options{
		Interval:  cfg.ProbeInterval,
		Timeout:   cfg.ProbeTimeout,
		ProbePath: cfg.ProbePath,
		Thresholds: health.Thresholds{
			DegradeAfter: cfg.DegradeThreshold,
			DownAfter:    cfg.DownThreshold,
		},
	})

	strategy, err := balancer.NewStrategy(cfg.Strategy)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown balancing strategy")
	}

	selector := balancer.NewSelector(reg, strategy, cfg.FallbackToAny)
	dispatcher := balancer.NewDispatcher(selector, monitor, collector, balancer.DispatcherOptions{
		Timeout:        cfg.DispatchTimeout,
		MaxRetries:     cfg.MaxRetries,
		InPlaceRetries: cfg.InPlaceRetries,
		RetryWaitMin:   cfg.RetryWaitMin,
		RetryWaitMax:   cfg.RetryWaitMax,
	})

	srv := server.New(reg, monitor, collector, selector, dispatcher, server.Options{
		APIKey:         cfg.APIKey,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		PromGatherer:   promReg,
	})

	if err := srv.Start(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	os.Exit(0)
}

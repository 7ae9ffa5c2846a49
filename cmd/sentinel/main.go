package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/defense"
	"github.com/dexintel/sentinel/internal/engine"
	"github.com/dexintel/sentinel/internal/feed"
	"github.com/dexintel/sentinel/internal/filter"
	"github.com/dexintel/sentinel/internal/notify"
	"github.com/dexintel/sentinel/internal/observability"
	"github.com/dexintel/sentinel/internal/ranking"
	"github.com/dexintel/sentinel/internal/rug"
	"github.com/dexintel/sentinel/internal/token"
	"github.com/dexintel/sentinel/internal/watch"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	chainID := flag.String("chain", "solana", "Chain to monitor")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("SENTINEL Token Intelligence Pipeline - Starting")
	log.Info().Msg("DISCOVER -> FILTER -> SCORE -> RANK -> WATCH")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("chain", *chainID).
		Int("poll_interval_s", cfg.Feed.PollIntervalS).
		Float64("min_liquidity", cfg.Filter.Stage1.MinLiquidityUSD).
		Float64("min_composite", cfg.Filter.Stage2.MinCompositeScore).
		Float64("max_rug_prob", cfg.Filter.Stage2.MaxRugProbability).
		Msg("Configuration loaded")

	// 4. Metrics registry.
	metrics := observability.PipelineMetrics()
	tokensSeen := metrics.GetCounter("sentinel_tokens_seen_total")
	stage1Passed := metrics.GetCounter("sentinel_stage1_passed_total")
	stage2Passed := metrics.GetCounter("sentinel_stage2_passed_total")
	alertsEmitted := metrics.GetCounter("sentinel_alerts_emitted_total")
	feedErrors := metrics.GetCounter("sentinel_feed_errors_total")
	watchActive := metrics.GetGauge("sentinel_watch_active")
	rankingPending := metrics.GetGauge("sentinel_ranking_pending")
	defenseMode := metrics.GetGauge("sentinel_defense_mode")
	memoryGauge := metrics.GetGauge("sentinel_memory_mb")
	evalLatency := metrics.GetHistogram("sentinel_evaluate_latency_ms")

	// 5. Build the pipeline.
	reputation := engine.NewReputationStore()
	engines := []engine.Engine{
		engine.NewRiskEngine(cfg.Scoring.RiskWeights),
		engine.NewAuthenticityEngine(),
		engine.NewBuyQualityEngine(),
		engine.NewDeveloperEngine(reputation),
		engine.NewWhaleEngine(cfg.Whale),
		engine.NewEarlyBuyerEngine(cfg.Early),
		engine.NewClusterEngine(cfg.Cluster),
		engine.NewRotationEngine(cfg.Rotation),
	}
	riskEngine := engines[0].(*engine.RiskEngine)
	estimator := rug.New(cfg.Rug)

	controller := defense.NewController(cfg.Defense)
	screen := filter.New(cfg.Filter, cfg.Scoring.CompositeWeights, engines, estimator)
	screen.SkipNonCritical = controller.InSafeMode

	ranker := ranking.New(cfg.Ranking)
	ranker.CooldownScale = controller.CooldownMultiplier
	watcher := watch.NewManager(cfg.Watch)
	client := feed.NewClient(cfg.Feed)
	stream := feed.NewStream(cfg.Feed)
	sink := notify.NewFanout(notify.NewLogSink())

	log.Info().Int("engines", len(engines)).Msg("Pipeline initialized")

	// 6. Tracked pair set: seeded by the stream, polled by the client.
	var trackedMu sync.Mutex
	tracked := make(map[token.Address]time.Time)
	trackedList := func() []token.Address {
		trackedMu.Lock()
		defer trackedMu.Unlock()
		maxAge := time.Duration(cfg.Filter.Stage1.MaxTokenAgeHours) * time.Hour
		out := make([]token.Address, 0, len(tracked))
		for addr, seen := range tracked {
			if time.Since(seen) > maxAge {
				delete(tracked, addr)
				continue
			}
			out = append(out, addr)
		}
		return out
	}

	// Last observed snapshot and risk score per token, so alerts can seed
	// the watch manager with a baseline.
	type lastSeen struct {
		snap *token.Snapshot
		risk float64
	}
	var lastMu sync.Mutex
	last := make(map[token.Address]lastSeen)

	// 7. Setup context and signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	// 8. New-pair stream consumer.
	pairEvents := stream.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range pairEvents {
			trackedMu.Lock()
			if _, ok := tracked[ev.Address]; !ok {
				tracked[ev.Address] = time.Now()
				log.Info().Str("pair", string(ev.Address)).Str("symbol", ev.Symbol).
					Msg("Tracking new pair")
			}
			trackedMu.Unlock()
		}
	}()

	// 9. Poll loop: fetch snapshots, run the two-stage screen, feed the
	// ranker and the watch manager. The defense controller stretches the
	// interval when the system is under pressure.
	wg.Add(1)
	go func() {
		defer wg.Done()
		base := time.Duration(cfg.Feed.PollIntervalS) * time.Second
		timer := time.NewTimer(base)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			addrs := trackedList()
			if len(addrs) > 0 {
				snaps, err := client.FetchPairs(ctx, *chainID, addrs)
				if err != nil {
					feedErrors.Inc()
					log.Warn().Err(err).Msg("Poll failed")
				}
				for _, snap := range snaps {
					tokensSeen.Inc()
					start := time.Now()
					ev := screen.Evaluate(snap, nil)
					evalLatency.Observe(float64(time.Since(start).Milliseconds()))

					if len(ev.Results) > 0 {
						stage1Passed.Inc()
					}
					if ev.Passed {
						stage2Passed.Inc()
						ranker.Submit(ev)
					}

					// The risk score comes out of the evaluation when stage 2
					// ran; a stage-1 reject is only re-scored when the token
					// is already under watch and needs the fresh reading.
					_, watched := watcher.Watching(snap.Address)
					riskTotal, haveRisk := 0.0, false
					if r, ok := ev.Results[engine.NameRisk]; ok {
						riskTotal, haveRisk = r.Score, true
					} else if watched {
						riskTotal, haveRisk = riskEngine.Breakdown(snap, nil).Total, true
					}
					if haveRisk {
						lastMu.Lock()
						last[snap.Address] = lastSeen{snap: snap, risk: riskTotal}
						lastMu.Unlock()
						if watched {
							watcher.Update(snap, riskTotal)
						}
					}
				}
			}

			timer.Reset(time.Duration(float64(base) * controller.PollMultiplier()))
		}
	}()

	// 10. Ranking ticker: emit the top alerts each window and put them
	// under watch.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.Ranking.WindowSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, a := range ranker.Rank(now) {
					alertsEmitted.Inc()
					_ = sink.DeliverAlert(ctx, a)

					// Every emitted alert goes under watch.
					lastMu.Lock()
					ls, ok := last[a.Address]
					lastMu.Unlock()
					if ok {
						watcher.Add(ls.snap, ls.risk)
					}
				}
				rankingPending.Set(float64(ranker.Pending()))
			}
		}
	}()

	// 11. Watch tick + event delivery.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.Watch.TickIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				watcher.Tick(now)
				watchActive.Set(float64(watcher.Len()))
			case ev, ok := <-watcher.Events():
				if !ok {
					return
				}
				metrics.GetCounter("sentinel_watch_events_total").Inc()
				_ = sink.DeliverWatchEvent(ctx, ev)
			}
		}
	}()

	// 12. Defense sampler: feed client error rate and latency plus process
	// memory into the controller. CPU is not self-measured; NaN keeps it
	// out of the evaluation.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.Defense.SampleIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Interval stats so a fresh failure burst is judged on its
				// own, not averaged into the lifetime totals.
				cs := client.IntervalStats()
				sample := defense.SelfSample(cs.ErrorRate, cs.AvgLatencyMs, math.NaN())
				mode := controller.Observe(sample)
				defenseMode.Set(modeValue(mode))
				memoryGauge.Set(sample.MemoryMB)
			}
		}
	}()

	// 13. Component health monitor: feed API, pair stream, and the defense
	// posture, checked on the defense sample cadence.
	monitor := observability.NewHealthMonitor(time.Duration(cfg.Defense.SampleIntervalS) * time.Second)
	monitor.Register("feed_api", func(_ context.Context) observability.ComponentHealth {
		st := client.Stats()
		h := observability.ComponentHealth{
			Status:  observability.StatusHealthy,
			Details: map[string]any{"requests": st.Requests, "failures": st.Failures},
		}
		switch {
		case st.Requests > 0 && st.ErrorRate > cfg.Defense.MaxErrorRate:
			h.Status = observability.StatusUnhealthy
			h.Message = fmt.Sprintf("error rate %.2f above ceiling", st.ErrorRate)
		case st.Requests > 0 && st.ErrorRate > cfg.Defense.MaxErrorRate/2:
			h.Status = observability.StatusDegraded
			h.Message = fmt.Sprintf("error rate %.2f elevated", st.ErrorRate)
		}
		return h
	})
	monitor.Register("pair_stream", func(_ context.Context) observability.ComponentHealth {
		st := stream.Stats()
		h := observability.ComponentHealth{
			Status:  observability.StatusHealthy,
			Details: map[string]any{"pairs_seen": st.PairsSeen, "reconnects": st.Reconnects},
		}
		if !st.Connected {
			h.Status = observability.StatusUnhealthy
			h.Message = "stream disconnected"
		}
		return h
	})
	monitor.Register("defense", func(_ context.Context) observability.ComponentHealth {
		h := observability.ComponentHealth{Status: observability.StatusHealthy}
		switch controller.Mode() {
		case defense.ModeDegraded:
			h.Status = observability.StatusDegraded
			h.Message = "running degraded"
		case defense.ModeSafe:
			h.Status = observability.StatusUnhealthy
			h.Message = "running in safe mode"
		}
		return h
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-monitor.Alerts():
				log.Warn().
					Str("component", a.Component).
					Str("level", a.Level).
					Str("message", a.Message).
					Msg("Component health changed")
			}
		}
	}()

	// 14. Admin escalations from defense transitions.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tr := <-controller.Transitions():
				_ = sink.DeliverDefenseTransition(ctx, tr)
			}
		}
	}()

	// 15. HTTP status server: /health, /metrics, /stats.
	if cfg.Status.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mux := http.NewServeMux()

			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				sys := monitor.Check(r.Context())
				payload := map[string]any{
					"status":      sys.Status,
					"components":  sys.Components,
					"uptime_s":    int64(sys.Uptime.Seconds()),
					"mode":        controller.Mode(),
					"watching":    watcher.Len(),
					"instance_id": cfg.General.InstanceID,
				}
				if s, ok := controller.LastSample(); ok {
					payload["last_sample"] = map[string]any{
						"error_rate":  finiteOrNil(s.ErrorRate),
						"latency_ms":  finiteOrNil(s.LatencyMs),
						"memory_mb":   finiteOrNil(s.MemoryMB),
						"cpu_percent": finiteOrNil(s.CPUPercent),
						"at":          s.At,
					}
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(payload)
			})

			mux.Handle("/metrics", observability.NewPrometheusExporter(metrics))

			mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"filter":   screen.Stats(),
					"feed":     client.Stats(),
					"stream":   stream.Stats(),
					"watching": watcher.Len(),
					"pending":  ranker.Pending(),
					"mode":     controller.Mode(),
				})
			})

			addr := fmt.Sprintf(":%d", cfg.Status.Port)
			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			log.Info().Str("addr", addr).Msg("Status HTTP server started")

			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx)
			}()

			if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
				log.Error().Err(srvErr).Msg("HTTP server error")
			}
		}()
	}

	log.Info().Msg("SENTINEL - Running")

	// 16. Block until shutdown.
	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	wg.Wait()

	fs := screen.Stats()
	log.Info().
		Uint64("seen", fs.Seen).
		Uint64("stage1_passed", fs.Stage1Passed).
		Uint64("stage2_passed", fs.Stage2Passed).
		Int("watching", watcher.Len()).
		Msg("SENTINEL - Final Statistics")

	log.Info().Msg("SENTINEL - Shutdown complete")
}

// finiteOrNil renders an optional metric: NaN means "not collected" and
// serializes as null rather than breaking the JSON encoder.
func finiteOrNil(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func modeValue(m defense.Mode) float64 {
	switch m {
	case defense.ModeDegraded:
		return 1
	case defense.ModeSafe:
		return 2
	default:
		return 0
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "sentinel").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "sentinel").
			Str("instance", general.InstanceID).Logger()
	}
}

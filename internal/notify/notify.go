// Package notify delivers ranked alerts and watch events to their
// consumers. Sinks are pluggable; the default sink writes structured log
// lines, which downstream tooling tails.
package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dexintel/sentinel/internal/defense"
	"github.com/dexintel/sentinel/internal/ranking"
	"github.com/dexintel/sentinel/internal/watch"
)

// Sink receives outbound notifications.
type Sink interface {
	DeliverAlert(ctx context.Context, a ranking.Alert) error
	DeliverWatchEvent(ctx context.Context, ev watch.Event) error
	DeliverDefenseTransition(ctx context.Context, tr defense.Transition) error
}

// LogSink writes notifications as structured log events.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.With().Str("component", "notify").Logger()}
}

func (s *LogSink) DeliverAlert(_ context.Context, a ranking.Alert) error {
	s.logger.Info().
		Str("alert_id", a.ID).
		Str("token", string(a.Address)).
		Str("symbol", a.Symbol).
		Int("rank", a.Rank).
		Float64("composite", a.Composite).
		Float64("rug_prob", a.RugProb).
		Msg("ALERT")
	return nil
}

func (s *LogSink) DeliverWatchEvent(_ context.Context, ev watch.Event) error {
	evt := s.logger.Info()
	if ev.Kind == watch.EventRiskJump || ev.Kind == watch.EventExitAdvised {
		evt = s.logger.Warn()
	}
	evt.
		Str("token", string(ev.Address)).
		Str("kind", string(ev.Kind)).
		Str("state", string(ev.State)).
		Str("detail", ev.Detail).
		Msg("WATCH EVENT")
	return nil
}

func (s *LogSink) DeliverDefenseTransition(_ context.Context, tr defense.Transition) error {
	s.logger.Warn().
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("reason", tr.Reason).
		Msg("[ADMIN] DEFENSE ESCALATION")
	return nil
}

// Fanout delivers each notification to every sink, logging per-sink
// failures without short-circuiting the rest.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout { return &Fanout{sinks: sinks} }

func (f *Fanout) DeliverAlert(ctx context.Context, a ranking.Alert) error {
	for _, s := range f.sinks {
		if err := s.DeliverAlert(ctx, a); err != nil {
			log.Error().Err(err).Str("alert_id", a.ID).Msg("alert delivery failed")
		}
	}
	return nil
}

func (f *Fanout) DeliverWatchEvent(ctx context.Context, ev watch.Event) error {
	for _, s := range f.sinks {
		if err := s.DeliverWatchEvent(ctx, ev); err != nil {
			log.Error().Err(err).Str("token", string(ev.Address)).Msg("watch event delivery failed")
		}
	}
	return nil
}

func (f *Fanout) DeliverDefenseTransition(ctx context.Context, tr defense.Transition) error {
	for _, s := range f.sinks {
		if err := s.DeliverDefenseTransition(ctx, tr); err != nil {
			log.Error().Err(err).Str("to", string(tr.To)).Msg("defense transition delivery failed")
		}
	}
	return nil
}

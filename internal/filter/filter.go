// Package filter implements the two-stage token screen. Stage 1 applies
// cheap static thresholds to discard the bulk of the feed before any engine
// runs; stage 2 runs the metric engines, folds their scores into a weighted
// composite, and gates on composite score and rug probability.
package filter

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/engine"
	"github.com/dexintel/sentinel/internal/rug"
	"github.com/dexintel/sentinel/internal/token"
)

// RejectReason identifies which check eliminated a token. Checks run in a
// fixed order; the reason reported is always the first failure.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectLiquidity      RejectReason = "liquidity_below_min"
	RejectVolume         RejectReason = "volume_below_min"
	RejectAge            RejectReason = "token_too_old"
	RejectBuyRatio       RejectReason = "buy_ratio_below_min"
	RejectPriceChange    RejectReason = "price_change_out_of_band"
	RejectCompositeScore RejectReason = "composite_below_min"
	RejectRugProbability RejectReason = "rug_probability_above_max"
)

// Evaluation is the full stage-2 output for a token that reached scoring.
type Evaluation struct {
	Address    token.Address            `json:"address"`
	Symbol     string                   `json:"symbol"`
	Composite  float64                  `json:"composite"`
	Results    map[string]engine.Result `json:"results"`
	Rug        rug.Estimate             `json:"rug"`
	Passed     bool                     `json:"passed"`
	Reason     RejectReason             `json:"reason,omitempty"`
	EvaluatedAt time.Time               `json:"evaluated_at"`
}

// Flags collects every flag raised across all engine results.
func (ev *Evaluation) Flags() []engine.Flag {
	var flags []engine.Flag
	for _, r := range ev.Results {
		flags = append(flags, r.Flags...)
	}
	return flags
}

// Stats are the filter's lifetime counters.
type Stats struct {
	Seen          uint64 `json:"seen"`
	Stage1Passed  uint64 `json:"stage1_passed"`
	Stage2Passed  uint64 `json:"stage2_passed"`
	EnginesSkipped uint64 `json:"engines_skipped"`
}

// Filter runs the two-stage screen. SkipNonCritical, when set, is consulted
// per evaluation; a true return drops the non-critical engines for that pass
// (their results degrade to neutral).
type Filter struct {
	cfg       config.FilterConfig
	weights   config.CompositeWeights
	engines   []engine.Engine
	estimator *rug.Estimator

	SkipNonCritical func() bool

	seen          atomic.Uint64
	stage1Passed  atomic.Uint64
	stage2Passed  atomic.Uint64
	enginesSkipped atomic.Uint64
}

// New builds a filter over the given engines. Engine order does not matter;
// composite weights bind by engine name.
func New(cfg config.FilterConfig, weights config.CompositeWeights, engines []engine.Engine, estimator *rug.Estimator) *Filter {
	return &Filter{
		cfg:       cfg,
		weights:   weights,
		engines:   engines,
		estimator: estimator,
	}
}

// Stage1 applies the static pre-screen. It never runs an engine.
func (f *Filter) Stage1(snap *token.Snapshot) (bool, RejectReason) {
	f.seen.Add(1)

	liq, _ := snap.LiquidityUSD.Float64()
	if liq < f.cfg.Stage1.MinLiquidityUSD {
		return false, RejectLiquidity
	}
	vol, _ := snap.Volume24hUSD.Float64()
	if vol < f.cfg.Stage1.MinVolume24hUSD {
		return false, RejectVolume
	}
	maxAge := time.Duration(f.cfg.Stage1.MaxTokenAgeHours) * time.Hour
	if age := snap.Age(); age > maxAge {
		return false, RejectAge
	}

	f.stage1Passed.Add(1)
	return true, RejectNone
}

// Stage2 runs the engines and the rug estimator and applies the scoring
// gates. Stage2 assumes Stage1 already passed; callers should use Evaluate
// for the full screen.
func (f *Filter) Stage2(snap *token.Snapshot, aux *token.Aux) *Evaluation {
	ev := &Evaluation{
		Address:     snap.Address,
		Symbol:      snap.Symbol,
		Results:     make(map[string]engine.Result, len(f.engines)),
		EvaluatedAt: time.Now(),
	}

	// Cheap trade-shape gates run before any engine.
	if ratio := snap.BuyRatio(); ratio < f.cfg.Stage2.MinBuyRatio {
		ev.Reason = RejectBuyRatio
		return ev
	}
	if pc := snap.PriceChange5mPct; pc < f.cfg.Stage2.MinPriceChange5m || pc > f.cfg.Stage2.MaxPriceChange5m {
		ev.Reason = RejectPriceChange
		return ev
	}

	skipNonCritical := f.SkipNonCritical != nil && f.SkipNonCritical()
	for _, e := range f.engines {
		if skipNonCritical && engine.NonCriticalEngines[e.Name()] {
			ev.Results[e.Name()] = engine.Neutral(e.Name())
			f.enginesSkipped.Add(1)
			continue
		}
		ev.Results[e.Name()] = safeScore(e, snap, aux)
	}

	ev.Rug = f.estimator.Estimate(snap, aux,
		normalizedOrNeutral(ev.Results, engine.NameAuthenticity),
		normalizedOrNeutral(ev.Results, engine.NameDeveloper))

	ev.Composite = f.composite(ev)

	if ev.Composite < f.cfg.Stage2.MinCompositeScore {
		ev.Reason = RejectCompositeScore
		return ev
	}
	if ev.Rug.Probability > f.cfg.Stage2.MaxRugProbability {
		ev.Reason = RejectRugProbability
		return ev
	}

	ev.Passed = true
	f.stage2Passed.Add(1)
	return ev
}

// Evaluate runs both stages. A stage-1 rejection returns an Evaluation with
// no engine results.
func (f *Filter) Evaluate(snap *token.Snapshot, aux *token.Aux) *Evaluation {
	if ok, reason := f.Stage1(snap); !ok {
		log.Debug().
			Str("token", string(snap.Address)).
			Str("reason", string(reason)).
			Msg("stage1 reject")
		return &Evaluation{
			Address:     snap.Address,
			Symbol:      snap.Symbol,
			Reason:      reason,
			EvaluatedAt: time.Now(),
		}
	}
	ev := f.Stage2(snap, aux)
	if !ev.Passed {
		log.Debug().
			Str("token", string(snap.Address)).
			Str("reason", string(ev.Reason)).
			Float64("composite", ev.Composite).
			Msg("stage2 reject")
	}
	return ev
}

// composite folds the engine results into the weighted 0-100 score. The rug
// term enters inverted: low probability contributes high score.
func (f *Filter) composite(ev *Evaluation) float64 {
	w := f.weights
	score := normalizedOrNeutral(ev.Results, engine.NameRisk)

	// Risk is a hazard score; invert it so the composite rewards safety.
	total := (100 - score) * w.Risk
	total += normalizedOrNeutral(ev.Results, engine.NameAuthenticity) * w.Authenticity
	total += normalizedOrNeutral(ev.Results, engine.NameBuyQuality) * w.BuyQuality
	total += normalizedOrNeutral(ev.Results, engine.NameDeveloper) * w.Developer
	total += normalizedOrNeutral(ev.Results, engine.NameWhale) * w.Whale
	total += normalizedOrNeutral(ev.Results, engine.NameEarlyBuyers) * w.EarlyBuyers
	total += normalizedOrNeutral(ev.Results, engine.NameCluster) * w.WalletClusters
	total += normalizedOrNeutral(ev.Results, engine.NameRotation) * w.Rotation
	total += (1 - ev.Rug.Probability) * 100 * w.RugProbability

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return total
}

// safeScore shields the filter from a misbehaving engine: a panic degrades
// to a neutral result, same as missing data.
func safeScore(e engine.Engine, snap *token.Snapshot, aux *token.Aux) (res engine.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("engine", e.Name()).
				Msg("engine panicked, substituting neutral result")
			res = engine.Neutral(e.Name())
		}
	}()
	return e.Score(snap, aux)
}

func normalizedOrNeutral(results map[string]engine.Result, name string) float64 {
	r, ok := results[name]
	if !ok {
		return 50
	}
	return r.Normalized()
}

// Stats returns a snapshot of the filter counters.
func (f *Filter) Stats() Stats {
	return Stats{
		Seen:           f.seen.Load(),
		Stage1Passed:   f.stage1Passed.Load(),
		Stage2Passed:   f.stage2Passed.Load(),
		EnginesSkipped: f.enginesSkipped.Load(),
	}
}

// String implements fmt.Stringer for log-friendly stats output.
func (s Stats) String() string {
	return fmt.Sprintf("seen=%d stage1=%d stage2=%d skipped=%d",
		s.Seen, s.Stage1Passed, s.Stage2Passed, s.EnginesSkipped)
}

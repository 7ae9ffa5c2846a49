// Package ranking turns passing evaluations into a ranked alert stream.
// Candidates accumulate in a sliding window; each ranking pass emits the
// top K by composite score, with rug probability breaking ties, subject to
// a per-token cooldown so the same token cannot alert twice in quick
// succession.
package ranking

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/engine"
	"github.com/dexintel/sentinel/internal/filter"
	"github.com/dexintel/sentinel/internal/token"
)

// Alert is one ranked, deliverable finding.
type Alert struct {
	ID          string        `json:"id"`
	Address     token.Address `json:"address"`
	Symbol      string        `json:"symbol"`
	Rank        int           `json:"rank"`
	Composite   float64       `json:"composite"`
	RugProb     float64       `json:"rug_probability"`
	Flags       []engine.Flag `json:"flags,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Engine holds the candidate window and cooldown ledger. CooldownScale,
// when set, stretches the per-token cooldown; the defense controller uses
// it to lengthen cooldowns in safe mode.
type Engine struct {
	cfg config.RankingConfig

	CooldownScale func() float64

	mu         sync.Mutex
	candidates map[token.Address]*filter.Evaluation
	lastAlert  map[token.Address]time.Time
}

func New(cfg config.RankingConfig) *Engine {
	return &Engine{
		cfg:        cfg,
		candidates: make(map[token.Address]*filter.Evaluation),
		lastAlert:  make(map[token.Address]time.Time),
	}
}

// Submit adds a passing evaluation to the window. A newer evaluation for
// the same token replaces the old one.
func (e *Engine) Submit(ev *filter.Evaluation) {
	if ev == nil || !ev.Passed {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates[ev.Address] = ev
}

// Rank expires stale candidates, applies cooldowns, and returns the top K
// alerts as of now. Emitted tokens enter cooldown immediately. The pass
// consumes the window: every candidate is discarded afterwards, emitted or
// not, so a token must re-qualify in a later poll to alert later.
func (e *Engine) Rank(now time.Time) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	window := time.Duration(e.cfg.WindowSeconds) * time.Second
	cooldown := time.Duration(e.cfg.AlertCooldownS) * time.Second
	if e.CooldownScale != nil {
		cooldown = time.Duration(float64(cooldown) * e.CooldownScale())
	}

	eligible := make([]*filter.Evaluation, 0, len(e.candidates))
	for addr, ev := range e.candidates {
		if now.Sub(ev.EvaluatedAt) > window {
			delete(e.candidates, addr)
			continue
		}
		if last, ok := e.lastAlert[addr]; ok && now.Sub(last) < cooldown {
			continue
		}
		eligible = append(eligible, ev)
	}
	for addr, last := range e.lastAlert {
		if now.Sub(last) > cooldown {
			delete(e.lastAlert, addr)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Composite != eligible[j].Composite {
			return eligible[i].Composite > eligible[j].Composite
		}
		// Tie-break: safer token first.
		return eligible[i].Rug.Probability < eligible[j].Rug.Probability
	})

	k := e.cfg.TopK
	if k > len(eligible) {
		k = len(eligible)
	}

	alerts := make([]Alert, 0, k)
	for i := 0; i < k; i++ {
		ev := eligible[i]
		alerts = append(alerts, Alert{
			ID:          uuid.NewString(),
			Address:     ev.Address,
			Symbol:      ev.Symbol,
			Rank:        i + 1,
			Composite:   ev.Composite,
			RugProb:     ev.Rug.Probability,
			Flags:       ev.Flags(),
			GeneratedAt: now,
		})
		e.lastAlert[ev.Address] = now
	}

	if len(alerts) > 0 {
		log.Info().
			Int("alerts", len(alerts)).
			Int("candidates", len(e.candidates)).
			Str("top", string(alerts[0].Address)).
			Msg("ranking pass emitted alerts")
	}

	// Flush the window. Non-emitted candidates do not linger into the next
	// pass; only the cooldown ledger survives.
	e.candidates = make(map[token.Address]*filter.Evaluation)
	return alerts
}

// Pending returns the current candidate count, for the status endpoint.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.candidates)
}

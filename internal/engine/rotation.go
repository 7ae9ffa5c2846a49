package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// Rotation flags.
const (
	FlagCapitalInflow   Flag = "CAPITAL_INFLOW"
	FlagRotationTarget  Flag = "ROTATION_TARGET"
	FlagRotationFunding Flag = "ROTATION_SOURCE_EXIT"
)

// flowEvent is one large aggregate exit or entry observed for a token.
type flowEvent struct {
	addr      token.Address
	volumeUSD float64
	at        time.Time
}

// RotationEngine detects capital rotating between tokens: a large exit from
// one token followed shortly by a comparable entry into another suggests
// smart money repositioning, and the receiving token deserves a boost.
// The engine is stateful across evaluations; Observe feeds it aggregate
// flows and Score checks whether the token under evaluation is a recent
// rotation target.
type RotationEngine struct {
	cfg config.RotationConfig

	mu      sync.Mutex
	exits   []flowEvent
	entries []flowEvent
}

func NewRotationEngine(cfg config.RotationConfig) *RotationEngine {
	return &RotationEngine{cfg: cfg}
}

func (e *RotationEngine) Name() string { return NameRotation }

// Observe records the aggregate sell and buy volume seen for a token this
// cycle. Volumes below the configured floors are ignored.
func (e *RotationEngine) Observe(addr token.Address, sellUSD, buyUSD float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sellUSD >= e.cfg.MinExitVolumeUSD {
		e.exits = append(e.exits, flowEvent{addr: addr, volumeUSD: sellUSD, at: at})
	}
	if buyUSD >= e.cfg.MinEntryVolumeUSD {
		e.entries = append(e.entries, flowEvent{addr: addr, volumeUSD: buyUSD, at: at})
	}
	e.prune(at)
}

func (e *RotationEngine) prune(now time.Time) {
	cutoff := now.Add(-time.Duration(e.cfg.WindowMinutes) * time.Minute)
	e.exits = pruneBefore(e.exits, cutoff)
	e.entries = pruneBefore(e.entries, cutoff)
}

func pruneBefore(events []flowEvent, cutoff time.Time) []flowEvent {
	kept := events[:0]
	for _, ev := range events {
		if !ev.at.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}

func (e *RotationEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if snap == nil {
		return Neutral(NameRotation)
	}

	// Feed this cycle's flows before scoring, when trade detail is present.
	if aux != nil && len(aux.Trades) > 0 {
		var sellUSD, buyUSD float64
		for _, t := range aux.Trades {
			amt, _ := t.AmountUSD.Float64()
			if t.Side == token.SideSell {
				sellUSD += amt
			} else {
				buyUSD += amt
			}
		}
		at := snap.ObservedAt
		if at.IsZero() {
			at = time.Now()
		}
		e.Observe(snap.Address, sellUSD, buyUSD, at)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := Result{Engine: NameRotation, Score: 50, MaxScore: 100}

	// The boost applies once per evaluation no matter how many exit/entry
	// pairs line up; each pair still contributes evidence.
	maxGap := time.Duration(e.cfg.MaxGapMinutes) * time.Minute
	detected := false
	for _, entry := range e.entries {
		if entry.addr != snap.Address {
			continue
		}
		res.Flags = appendUnique(res.Flags, FlagCapitalInflow)
		for _, exit := range e.exits {
			if exit.addr == snap.Address {
				continue
			}
			gap := entry.at.Sub(exit.at)
			if gap >= 0 && gap <= maxGap {
				detected = true
				res.Flags = appendUnique(res.Flags, FlagRotationTarget)
				res.Evidence = append(res.Evidence,
					fmt.Sprintf("$%.0f exited %s %.0fm before $%.0f entered",
						exit.volumeUSD, shortWallet(string(exit.addr)),
						gap.Minutes(), entry.volumeUSD))
			}
		}
	}
	if detected {
		res.Score = clamp(res.Score+e.cfg.DetectedBoost, 0, 100)
	}

	// The token being exited is the other side of the rotation.
	for _, exit := range e.exits {
		if exit.addr == snap.Address {
			res.Score = clamp(res.Score-10, 0, 100)
			res.Flags = appendUnique(res.Flags, FlagRotationFunding)
			break
		}
	}

	return res
}

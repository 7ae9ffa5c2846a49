package engine

import (
	"github.com/dexintel/sentinel/internal/token"
)

// ---------------------------------------------------------------------------
// Metric Engine contract
// Each engine scores one facet of a token's risk/quality profile. Engines are
// independent: they never read each other's output, and a failed or
// data-starved evaluation degrades to a neutral result instead of an error.
// ---------------------------------------------------------------------------

// Flag is a discrete finding raised by an engine. Each engine declares its
// own closed set of flag constants so downstream aggregation can switch over
// them exhaustively.
type Flag string

// Result is the output of a single engine evaluation. Scores are always
// within [0, MaxScore]; Neutral marks results produced without enough data
// to carry any signal.
type Result struct {
	Engine   string   `json:"engine"`
	Score    float64  `json:"score"`
	MaxScore float64  `json:"max_score"`
	Flags    []Flag   `json:"flags,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
	Neutral  bool     `json:"neutral,omitempty"`
}

// Normalized returns the score mapped onto [0, 100].
func (r Result) Normalized() float64 {
	if r.MaxScore == 0 {
		return 0
	}
	return clamp(r.Score/r.MaxScore*100, 0, 100)
}

// HasFlag reports whether the result carries the given flag.
func (r Result) HasFlag(f Flag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Neutral builds a zero-influence result for an engine that could not
// compute. Neutral scores sit at the midpoint so weighted aggregation is
// unaffected in either direction.
func Neutral(name string) Result {
	return Result{
		Engine:   name,
		Score:    50,
		MaxScore: 100,
		Neutral:  true,
	}
}

// Engine is the capability shared by all metric engines.
type Engine interface {
	Name() string
	Score(snap *token.Snapshot, aux *token.Aux) Result
}

// Engine names, used by the filter to bind composite weights.
const (
	NameRisk         = "risk"
	NameAuthenticity = "authenticity"
	NameBuyQuality   = "buy_quality"
	NameDeveloper    = "developer"
	NameWhale        = "whale"
	NameEarlyBuyers  = "early_buyers"
	NameCluster      = "wallet_clusters"
	NameRotation     = "capital_rotation"
)

// NonCriticalEngines are skipped when the self-defense controller enters
// SafeMode.
var NonCriticalEngines = map[string]bool{
	NameCluster:  true,
	NameRotation: true,
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

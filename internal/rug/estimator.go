// Package rug estimates the probability that a token's liquidity will be
// pulled or its holders otherwise drained. The estimator is a pure function
// over the current snapshot plus the authenticity and developer engine
// outputs; it keeps no state between calls.
package rug

import (
	"math"
	"time"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// WarningLevel buckets a rug probability for alerting.
type WarningLevel string

const (
	LevelNone     WarningLevel = "none"
	LevelLow      WarningLevel = "low"
	LevelMedium   WarningLevel = "medium"
	LevelHigh     WarningLevel = "high"
	LevelCritical WarningLevel = "critical"
)

// Estimate is the estimator output: the combined probability, its level,
// and the raw per-indicator intensities that produced it.
type Estimate struct {
	Probability float64      `json:"probability"`
	Level       WarningLevel `json:"level"`

	Liquidity float64 `json:"liquidity"`
	Holder    float64 `json:"holder"`
	Contract  float64 `json:"contract"`
	Developer float64 `json:"developer"`
	Volume    float64 `json:"volume"`

	EarlyWarning bool `json:"early_warning"`
}

// Estimator combines five weighted rug indicators into one probability.
type Estimator struct {
	cfg config.RugConfig
}

func New(cfg config.RugConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate computes the rug probability for a token. authenticityScore and
// developerScore are the normalized [0,100] outputs of the respective
// engines; pass 50 when either engine returned a neutral result.
//
// Each indicator yields an intensity x in [0,1]; the combined probability is
//
//	p = 1 - prod(1 - w_i * x_i)
//
// which is monotone in every indicator and never reaches 1 from any single
// signal alone.
func (e *Estimator) Estimate(snap *token.Snapshot, aux *token.Aux, authenticityScore, developerScore float64) Estimate {
	est := Estimate{
		Liquidity: liquidityIndicator(snap, aux),
		Holder:    holderIndicator(snap, aux),
		Contract:  contractIndicator(aux),
		Developer: developerIndicator(developerScore),
		Volume:    volumeIndicator(snap, authenticityScore),
	}

	survive := 1.0
	survive *= 1 - e.cfg.LiquidityWeight*est.Liquidity
	survive *= 1 - e.cfg.HolderWeight*est.Holder
	survive *= 1 - e.cfg.ContractWeight*est.Contract
	survive *= 1 - e.cfg.DeveloperWeight*est.Developer
	survive *= 1 - e.cfg.VolumeWeight*est.Volume
	p := 1 - survive

	// Early-warning boost: unlocked liquidity on a very young pair is the
	// classic setup, so amplify while the window is open.
	if snap != nil && snap.Age() < 6*time.Hour && est.Liquidity > 0.5 {
		p = math.Min(p*1.2, 1.0)
		est.EarlyWarning = true
	}

	est.Probability = p
	est.Level = Classify(p)
	return est
}

// Classify maps a probability onto a warning level: <0.1 none, <0.2 low,
// <0.4 medium, <0.6 high, else critical.
func Classify(p float64) WarningLevel {
	switch {
	case p < 0.1:
		return LevelNone
	case p < 0.2:
		return LevelLow
	case p < 0.4:
		return LevelMedium
	case p < 0.6:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func liquidityIndicator(snap *token.Snapshot, aux *token.Aux) float64 {
	if snap == nil {
		return 0.5
	}
	liq, _ := snap.LiquidityUSD.Float64()

	// Thin pools are trivially pullable.
	x := 0.6 * math.Exp(-liq/30_000)

	if aux != nil && aux.Contract != nil {
		switch ci := aux.Contract; {
		case !ci.LiquidityLocked:
			x += 0.4
		case ci.LockRemainingDays > 0 && ci.LockRemainingDays < 7:
			x += 0.3
		case ci.LockTimeDays < 30:
			x += 0.15
		}
	} else {
		x += 0.2 // lock status unknown
	}

	return clamp01(x)
}

func holderIndicator(snap *token.Snapshot, aux *token.Aux) float64 {
	x := 0.0
	if snap != nil {
		switch {
		case snap.HolderCount < 30:
			x += 0.4
		case snap.HolderCount < 100:
			x += 0.2
		}
	}
	if aux != nil && len(aux.TopHolders) > 0 {
		top10 := aux.Top10Pct()
		switch {
		case top10 > 70:
			x += 0.6
		case top10 > 50:
			x += 0.4
		case top10 > 30:
			x += 0.2
		}
	}
	return clamp01(x)
}

func contractIndicator(aux *token.Aux) float64 {
	if aux == nil || aux.Contract == nil {
		return 0.5
	}
	ci := aux.Contract

	x := 0.0
	if !ci.Verified {
		x += 0.35
	}
	for _, fn := range ci.Functions {
		switch fn {
		case "mint":
			x += 0.3
		case "blacklist", "pause":
			x += 0.2
		case "setTax":
			x += 0.15
		}
	}
	if ci.IsProxy {
		x += 0.2
	}
	if !ci.OwnerRenounced {
		x += 0.1
	}
	return clamp01(x)
}

// developerIndicator converts the developer engine score (100 = trusted)
// into rug intensity (1 = known rugger).
func developerIndicator(score float64) float64 {
	return clamp01(1 - score/100)
}

// volumeIndicator reads fake volume as a rug setup: manufactured activity
// exists to pull in exit liquidity.
func volumeIndicator(snap *token.Snapshot, authenticityScore float64) float64 {
	x := clamp01(1-authenticityScore/100) * 0.8
	if snap != nil && snap.BuyRatio() < 0.3 {
		x += 0.2
	}
	return clamp01(x)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// ---------------------------------------------------------------------------
// Risk Scoring Engine
// Weighted sum of five saturating sub-terms. Higher score = riskier token.
// ---------------------------------------------------------------------------

// Risk flags.
const (
	FlagLowLiquidity        Flag = "LOW_LIQUIDITY"
	FlagLowVolume           Flag = "LOW_VOLUME"
	FlagHolderConcentration Flag = "HOLDER_CONCENTRATION"
	FlagContractRisk        Flag = "CONTRACT_RISK"
	FlagDeveloperRisk       Flag = "DEVELOPER_RISK"
)

// RiskTier classifies the total risk score.
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// RiskBreakdown exposes the per-component sub-scores alongside the total.
type RiskBreakdown struct {
	Total               float64  `json:"total"`
	Tier                RiskTier `json:"tier"`
	LiquidityRisk       float64  `json:"liquidity_risk"`
	VolumeRisk          float64  `json:"volume_risk"`
	HolderConcentration float64  `json:"holder_concentration"`
	ContractRisk        float64  `json:"contract_risk"`
	DeveloperRisk       float64  `json:"developer_risk"`
}

// RiskEngine computes the weighted multi-factor risk score.
type RiskEngine struct {
	weights config.RiskWeights
}

// NewRiskEngine creates a risk engine with the given sub-term weights.
// The weights are validated to sum to 1.0 at config load.
func NewRiskEngine(weights config.RiskWeights) *RiskEngine {
	return &RiskEngine{weights: weights}
}

func (e *RiskEngine) Name() string { return NameRisk }

// Score evaluates the snapshot and returns a 0-100 risk result.
func (e *RiskEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if snap == nil {
		return Neutral(NameRisk)
	}

	b := e.Breakdown(snap, aux)

	res := Result{
		Engine:   NameRisk,
		Score:    b.Total,
		MaxScore: 100,
	}

	if b.LiquidityRisk > 50 {
		res.Flags = append(res.Flags, FlagLowLiquidity)
		res.Evidence = append(res.Evidence, fmt.Sprintf("liquidity risk %.0f: high slippage exposure", b.LiquidityRisk))
	}
	if b.VolumeRisk > 40 {
		res.Flags = append(res.Flags, FlagLowVolume)
		res.Evidence = append(res.Evidence, fmt.Sprintf("volume risk %.0f: exit may be difficult", b.VolumeRisk))
	}
	if b.HolderConcentration > 50 {
		res.Flags = append(res.Flags, FlagHolderConcentration)
	}
	if b.ContractRisk > 50 {
		res.Flags = append(res.Flags, FlagContractRisk)
	}
	if b.DeveloperRisk > 50 {
		res.Flags = append(res.Flags, FlagDeveloperRisk)
	}

	return res
}

// Breakdown computes the full per-component view used by the rug estimator
// and the watch exit assistant.
func (e *RiskEngine) Breakdown(snap *token.Snapshot, aux *token.Aux) RiskBreakdown {
	b := RiskBreakdown{
		LiquidityRisk:       e.liquidityRisk(snap),
		VolumeRisk:          e.volumeRisk(snap),
		HolderConcentration: e.holderRisk(snap, aux),
		ContractRisk:        e.contractRisk(snap, aux),
		DeveloperRisk:       e.developerRisk(aux),
	}

	w := e.weights
	b.Total = clamp(
		b.LiquidityRisk*w.Liquidity+
			b.VolumeRisk*w.Volume+
			b.HolderConcentration*w.HolderConcentration+
			b.ContractRisk*w.Contract+
			b.DeveloperRisk*w.Developer,
		0, 100)
	b.Tier = classifyRisk(b.Total)
	return b
}

func classifyRisk(total float64) RiskTier {
	switch {
	case total <= 30:
		return TierLow
	case total <= 60:
		return TierMedium
	case total <= 85:
		return TierHigh
	default:
		return TierCritical
	}
}

// saturating maps x >= 0 onto [0, max) with diminishing growth: the first
// `scale` units contribute most, and no input can push the term past max.
func saturating(x, scale, max float64) float64 {
	if x <= 0 {
		return 0
	}
	return max * (1 - math.Exp(-x/scale))
}

func (e *RiskEngine) liquidityRisk(snap *token.Snapshot) float64 {
	liq, _ := snap.LiquidityUSD.Float64()

	// Thin pools dominate; risk decays as liquidity grows past ~$50k.
	risk := 60 * math.Exp(-liq/50_000)

	// Liquidity to FDV ratio: a large cap backed by a thin pool is fragile.
	if fdv, _ := snap.FDVUSD.Float64(); fdv > 0 && liq > 0 {
		ratio := liq / fdv
		if ratio < 0.1 {
			risk += 25
		} else if ratio < 0.2 {
			risk += 10
		}
	}

	// Price impact of a $1k trade.
	if liq > 0 {
		impact := 1_000 / liq * 100
		risk += saturating(impact, 5, 20)
	}

	return clamp(risk, 0, 100)
}

func (e *RiskEngine) volumeRisk(snap *token.Snapshot) float64 {
	vol, _ := snap.Volume24hUSD.Float64()
	liq, _ := snap.LiquidityUSD.Float64()

	risk := 45 * math.Exp(-vol/20_000)

	// Velocity: volume far out of proportion to the pool in either
	// direction is a manipulation tell.
	if liq > 0 {
		velocity := vol / liq
		if velocity > 10 {
			risk += 20
		} else if velocity < 0.1 {
			risk += 15
		}
	}

	// 1h spike against the 24h hourly average.
	if vol1h, _ := snap.Volume1hUSD.Float64(); vol1h > 0 && vol > 0 {
		if vol1h > vol/24*5 {
			risk += 10
		}
	}

	if snap.BuyRatio() < 0.4 {
		risk += 15
	}

	return clamp(risk, 0, 100)
}

func (e *RiskEngine) holderRisk(snap *token.Snapshot, aux *token.Aux) float64 {
	risk := 0.0

	switch {
	case snap.HolderCount < 50:
		risk += 40
	case snap.HolderCount < 100:
		risk += 25
	case snap.HolderCount < 500:
		risk += 10
	}

	if aux != nil && len(aux.TopHolders) > 0 {
		top10 := aux.Top10Pct()
		if top10 > 50 {
			risk += 30
		} else if top10 > 30 {
			risk += 15
		}
	}

	return clamp(risk, 0, 100)
}

func (e *RiskEngine) contractRisk(snap *token.Snapshot, aux *token.Aux) float64 {
	if aux == nil || aux.Contract == nil {
		return 50 // unknown contract = medium risk
	}
	ci := aux.Contract

	risk := 0.0
	if !ci.Verified {
		risk += 30
	}

	for _, fn := range ci.Functions {
		switch fn {
		case "mint", "burn", "pause", "blacklist", "setTax", "transferOwnership":
			risk += 10
		}
	}

	if ci.IsProxy {
		risk += 15
	}

	// Very fresh pairs carry deployment risk independent of the contract.
	switch age := snap.Age(); {
	case age < time.Hour:
		risk += 20
	case age < 6*time.Hour:
		risk += 10
	}

	return clamp(risk, 0, 100)
}

func (e *RiskEngine) developerRisk(aux *token.Aux) float64 {
	if aux == nil || aux.Contract == nil {
		return 50 // unknown developer = medium risk
	}
	ci := aux.Contract

	risk := 0.0
	if !ci.LiquidityLocked {
		risk += 35
	} else if ci.LockTimeDays < 30 {
		risk += 15
	}
	if ci.Deployer == "" {
		risk += 15
	}
	if !ci.OwnerRenounced {
		risk += 10
	}

	return clamp(risk, 0, 100)
}

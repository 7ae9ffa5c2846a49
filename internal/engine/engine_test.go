package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

func testRiskWeights() config.RiskWeights {
	return config.RiskWeights{
		Liquidity:           0.25,
		Volume:              0.20,
		HolderConcentration: 0.20,
		Contract:            0.15,
		Developer:           0.20,
	}
}

// healthySnapshot builds a snapshot that should score well everywhere.
func healthySnapshot() *token.Snapshot {
	now := time.Now()
	return &token.Snapshot{
		Address:       "PAIRhealthy111",
		Symbol:        "GOOD",
		PriceUSD:      decimal.NewFromFloat(0.001),
		LiquidityUSD:  decimal.NewFromInt(120_000),
		Volume24hUSD:  decimal.NewFromInt(80_000),
		Volume1hUSD:   decimal.NewFromInt(4_000),
		FDVUSD:        decimal.NewFromInt(400_000),
		Buys24h:       600,
		Sells24h:      400,
		Buys5m:        3,
		Sells5m:       2,
		HolderCount:   900,
		PairCreatedAt: now.Add(-24 * time.Hour),
		ObservedAt:    now,
	}
}

func healthyAux() *token.Aux {
	return &token.Aux{
		Contract: &token.ContractInfo{
			Verified:        true,
			OwnerRenounced:  true,
			LiquidityLocked: true,
			LockTimeDays:    180,
			Deployer:        "DEVgood111",
		},
	}
}

func TestResult_Normalized(t *testing.T) {
	r := Result{Score: 25, MaxScore: 50}
	assert.Equal(t, 50.0, r.Normalized())

	r = Result{Score: 10, MaxScore: 0}
	assert.Equal(t, 0.0, r.Normalized())

	r = Result{Score: 200, MaxScore: 100}
	assert.Equal(t, 100.0, r.Normalized())
}

func TestNeutral(t *testing.T) {
	r := Neutral(NameWhale)
	assert.True(t, r.Neutral)
	assert.Equal(t, 50.0, r.Normalized())
	assert.Equal(t, NameWhale, r.Engine)
}

func TestNonCriticalEngines(t *testing.T) {
	assert.True(t, NonCriticalEngines[NameCluster])
	assert.True(t, NonCriticalEngines[NameRotation])
	assert.False(t, NonCriticalEngines[NameRisk])
	assert.False(t, NonCriticalEngines[NameWhale])
}

// ---------------------------------------------------------------------------
// Risk engine
// ---------------------------------------------------------------------------

func defaultRiskEngine() *RiskEngine {
	return NewRiskEngine(testRiskWeights())
}

func TestRiskEngine_HealthyTokenLowRisk(t *testing.T) {
	e := defaultRiskEngine()
	b := e.Breakdown(healthySnapshot(), healthyAux())

	assert.Less(t, b.Total, 40.0)
	assert.Equal(t, TierLow, classifyRisk(25))
}

func TestRiskEngine_ThinPoolHighRisk(t *testing.T) {
	e := defaultRiskEngine()
	snap := healthySnapshot()
	snap.LiquidityUSD = decimal.NewFromInt(3_000)
	snap.Volume24hUSD = decimal.NewFromInt(500)
	snap.HolderCount = 20

	res := e.Score(snap, nil)
	require.False(t, res.Neutral)
	assert.Greater(t, res.Score, 50.0)
	assert.True(t, res.HasFlag(FlagLowLiquidity))
}

func TestRiskEngine_UnknownContractIsMediumRisk(t *testing.T) {
	e := defaultRiskEngine()
	assert.Equal(t, 50.0, e.contractRisk(healthySnapshot(), nil))
	assert.Equal(t, 50.0, e.developerRisk(nil))
}

func TestRiskEngine_ScoreMatchesBreakdownTotal(t *testing.T) {
	// Consumers holding a scored Result reuse its Score as the risk total
	// instead of recomputing the breakdown.
	e := defaultRiskEngine()
	snap := healthySnapshot()
	aux := healthyAux()

	assert.Equal(t, e.Breakdown(snap, aux).Total, e.Score(snap, aux).Score)
}

func TestRiskEngine_NilSnapshotNeutral(t *testing.T) {
	e := defaultRiskEngine()
	res := e.Score(nil, nil)
	assert.True(t, res.Neutral)
}

func TestClassifyRisk_Tiers(t *testing.T) {
	assert.Equal(t, TierLow, classifyRisk(0))
	assert.Equal(t, TierLow, classifyRisk(30))
	assert.Equal(t, TierMedium, classifyRisk(31))
	assert.Equal(t, TierMedium, classifyRisk(60))
	assert.Equal(t, TierHigh, classifyRisk(61))
	assert.Equal(t, TierHigh, classifyRisk(85))
	assert.Equal(t, TierCritical, classifyRisk(86))
}

func TestRiskEngine_BoundedOutput(t *testing.T) {
	e := defaultRiskEngine()
	// Worst possible snapshot: everything bad at once.
	snap := &token.Snapshot{
		LiquidityUSD: decimal.NewFromInt(100),
		Volume24hUSD: decimal.NewFromInt(10),
		FDVUSD:       decimal.NewFromInt(10_000_000),
		Sells24h:     100,
		HolderCount:  5,
		ObservedAt:   time.Now(),
	}
	aux := &token.Aux{
		Contract: &token.ContractInfo{
			Functions: []string{"mint", "pause", "blacklist", "setTax"},
			IsProxy:   true,
		},
		TopHolders: []token.Holder{{Wallet: "W1", SupplyPct: 80}},
	}
	b := e.Breakdown(snap, aux)
	assert.LessOrEqual(t, b.Total, 100.0)
	assert.GreaterOrEqual(t, b.Total, 0.0)
	assert.Contains(t, []RiskTier{TierHigh, TierCritical}, b.Tier)
}

func TestSaturating(t *testing.T) {
	assert.Equal(t, 0.0, saturating(0, 5, 20))
	assert.Equal(t, 0.0, saturating(-1, 5, 20))
	assert.Less(t, saturating(100, 5, 20), 20.0)
	assert.Greater(t, saturating(10, 5, 20), saturating(5, 5, 20))
}

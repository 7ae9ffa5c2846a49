package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

func testClusterConfig() config.ClusterConfig {
	return config.ClusterConfig{
		MinClusterSize:    3,
		FundingSimilarity: 0.85,
		TimingWindowS:     120,
		SizeSimilarityPct: 20,
	}
}

func holder(wallet, fundedBy string, valueUSD float64, supplyPct float64, firstTrade time.Time) token.Holder {
	return token.Holder{
		Wallet:     wallet,
		FundedBy:   fundedBy,
		ValueUSD:   decimal.NewFromFloat(valueUSD),
		SupplyPct:  supplyPct,
		FirstTrade: firstTrade,
	}
}

func TestCluster_NeutralWithFewHolders(t *testing.T) {
	e := NewClusterEngine(testClusterConfig())
	assert.True(t, e.Score(healthySnapshot(), nil).Neutral)

	aux := &token.Aux{TopHolders: []token.Holder{holder("W1", "", 100, 1, time.Now())}}
	assert.True(t, e.Score(healthySnapshot(), aux).Neutral)
}

func TestCluster_SharedFundingDetected(t *testing.T) {
	e := NewClusterEngine(testClusterConfig())
	now := time.Now()

	aux := &token.Aux{TopHolders: []token.Holder{
		holder("W1", "FUNDER", 1_000, 5, now),
		holder("W2", "FUNDER", 1_100, 5, now),
		holder("W3", "FUNDER", 900, 5, now),
		holder("W4", "", 5_000, 2, now),
	}}

	clusters := e.Detect(aux)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Wallets, 3)
	assert.Equal(t, "FUNDER", clusters[0].FundedBy)
	assert.InDelta(t, 15.0, clusters[0].SupplyPct, 0.001)

	res := e.Score(healthySnapshot(), aux)
	assert.True(t, res.HasFlag(FlagWalletCluster))
	assert.True(t, res.HasFlag(FlagCommonFunding))
	assert.Less(t, res.Score, 100.0)
}

func TestCluster_BelowMinSizeIgnored(t *testing.T) {
	e := NewClusterEngine(testClusterConfig())
	now := time.Now()

	aux := &token.Aux{TopHolders: []token.Holder{
		holder("W1", "FUNDER", 1_000, 5, now),
		holder("W2", "FUNDER", 1_000, 5, now),
		holder("W3", "OTHER", 1_000, 5, now.Add(time.Hour)),
	}}

	assert.Empty(t, e.Detect(aux))

	res := e.Score(healthySnapshot(), aux)
	assert.Equal(t, 100.0, res.Score)
	assert.Empty(t, res.Flags)
}

func TestCluster_CoordinatedTimingDetected(t *testing.T) {
	e := NewClusterEngine(testClusterConfig())
	base := time.Now()

	// Four wallets entering within 2 minutes with near-identical sizes.
	aux := &token.Aux{TopHolders: []token.Holder{
		holder("W1", "", 1_000, 3, base),
		holder("W2", "", 1_050, 3, base.Add(30*time.Second)),
		holder("W3", "", 980, 3, base.Add(60*time.Second)),
		holder("W4", "", 1_020, 3, base.Add(90*time.Second)),
	}}

	clusters := e.Detect(aux)
	require.Len(t, clusters, 1)
	assert.Empty(t, clusters[0].FundedBy)
	assert.Len(t, clusters[0].Wallets, 4)

	res := e.Score(healthySnapshot(), aux)
	assert.True(t, res.HasFlag(FlagCoordinatedBuy))
}

func TestCluster_DissimilarSizesNotClustered(t *testing.T) {
	e := NewClusterEngine(testClusterConfig())
	base := time.Now()

	aux := &token.Aux{TopHolders: []token.Holder{
		holder("W1", "", 100, 3, base),
		holder("W2", "", 5_000, 3, base.Add(30*time.Second)),
		holder("W3", "", 90_000, 3, base.Add(60*time.Second)),
	}}

	assert.Empty(t, e.Detect(aux))
}

func TestCluster_HeavyClusteringDragsScore(t *testing.T) {
	e := NewClusterEngine(testClusterConfig())
	now := time.Now()

	var holders []token.Holder
	for i := 0; i < 6; i++ {
		holders = append(holders, holder(fmt.Sprintf("W%d", i), "FUNDER", 1_000, 10, now))
	}
	res := e.Score(healthySnapshot(), &token.Aux{TopHolders: holders})

	// 60% of supply in one cluster.
	assert.Less(t, res.Score, 20.0)
}

func TestSimilarSizes(t *testing.T) {
	now := time.Now()
	close := []token.Holder{
		holder("A", "", 100, 1, now),
		holder("B", "", 110, 1, now),
		holder("C", "", 95, 1, now),
	}
	assert.True(t, similarSizes(close, 20))

	spread := []token.Holder{
		holder("A", "", 100, 1, now),
		holder("B", "", 300, 1, now),
	}
	assert.False(t, similarSizes(spread, 20))
}

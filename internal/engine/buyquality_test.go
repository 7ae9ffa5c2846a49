package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexintel/sentinel/internal/token"
)

func TestBuyQuality_NeutralWithoutTrades(t *testing.T) {
	e := NewBuyQualityEngine()

	snap := healthySnapshot()
	snap.Buys24h = 0
	snap.Sells24h = 0

	assert.True(t, e.Score(snap, nil).Neutral)
	assert.True(t, e.Score(nil, nil).Neutral)
}

func TestBuyQuality_StrongPressureFlagged(t *testing.T) {
	e := NewBuyQualityEngine()

	snap := healthySnapshot()
	snap.Buys24h = 800
	snap.Sells24h = 200

	res := e.Score(snap, nil)
	require.False(t, res.Neutral)
	assert.True(t, res.HasFlag(FlagStrongBuyPressure))
	assert.Greater(t, res.Score, 50.0)
}

func TestBuyQuality_SellPressureFlagged(t *testing.T) {
	e := NewBuyQualityEngine()

	snap := healthySnapshot()
	snap.Buys24h = 200
	snap.Sells24h = 800

	res := e.Score(snap, nil)
	assert.True(t, res.HasFlag(FlagSellPressure))
	assert.Less(t, res.Score, 50.0)
}

func TestBuyQuality_ThinBuyerBase(t *testing.T) {
	e := NewBuyQualityEngine()
	now := time.Now()

	// One wallet behind all the buys.
	var trades []token.Trade
	for i := 0; i < 20; i++ {
		trades = append(trades, buyTrade("SOLO", 200, now))
	}

	res := e.Score(healthySnapshot(), &token.Aux{Trades: trades})
	assert.True(t, res.HasFlag(FlagThinBuyerBase))
}

func TestBuyQuality_BroadBuyerBaseScoresHigher(t *testing.T) {
	e := NewBuyQualityEngine()
	now := time.Now()

	var broad, narrow []token.Trade
	for i := 0; i < 20; i++ {
		broad = append(broad, buyTrade(fmt.Sprintf("W%d", i), 200, now))
		narrow = append(narrow, buyTrade("SOLO", 200, now))
	}

	snap := healthySnapshot()
	broadRes := e.Score(snap, &token.Aux{Trades: broad})
	narrowRes := e.Score(snap, &token.Aux{Trades: narrow})
	assert.Greater(t, broadRes.Score, narrowRes.Score)
}

func TestMomentumPoints(t *testing.T) {
	snap := healthySnapshot()
	snap.Buys24h = 288 // one per 5m on average
	snap.Sells24h = 0

	snap.Buys5m = 3 // 3x expected
	assert.Equal(t, 30.0, momentumPoints(snap))

	snap.Buys5m = 2
	assert.Equal(t, 22.0, momentumPoints(snap))

	snap.Buys5m = 1
	assert.Equal(t, 15.0, momentumPoints(snap))

	snap.Buys5m = 0
	snap.Sells5m = 1
	assert.Equal(t, 5.0, momentumPoints(snap))

	snap.Sells5m = 0
	assert.Equal(t, 15.0, momentumPoints(snap)) // no 5m data: midpoint
}

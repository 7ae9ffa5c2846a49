package ranking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/filter"
	"github.com/dexintel/sentinel/internal/rug"
	"github.com/dexintel/sentinel/internal/token"
)

func testRankingConfig() config.RankingConfig {
	return config.RankingConfig{
		WindowSeconds:  300,
		TopK:           3,
		AlertCooldownS: 600,
	}
}

func evaluation(addr string, composite, rugProb float64, at time.Time) *filter.Evaluation {
	return &filter.Evaluation{
		Address:     token.Address(addr),
		Symbol:      addr,
		Composite:   composite,
		Rug:         rug.Estimate{Probability: rugProb},
		Passed:      true,
		EvaluatedAt: at,
	}
}

func TestRank_TopKByComposite(t *testing.T) {
	e := New(testRankingConfig())
	now := time.Now()

	for i, score := range []float64{55, 90, 70, 62, 81} {
		e.Submit(evaluation(fmt.Sprintf("T%d", i), score, 0.1, now))
	}

	alerts := e.Rank(now)
	require.Len(t, alerts, 3)
	assert.Equal(t, token.Address("T1"), alerts[0].Address) // 90
	assert.Equal(t, token.Address("T4"), alerts[1].Address) // 81
	assert.Equal(t, token.Address("T2"), alerts[2].Address) // 70
	assert.Equal(t, 1, alerts[0].Rank)
	assert.Equal(t, 3, alerts[2].Rank)
	assert.NotEmpty(t, alerts[0].ID)
}

func TestRank_TieBreakOnRugProbability(t *testing.T) {
	e := New(testRankingConfig())
	now := time.Now()

	e.Submit(evaluation("RISKY", 80, 0.5, now))
	e.Submit(evaluation("SAFER", 80, 0.1, now))

	alerts := e.Rank(now)
	require.Len(t, alerts, 2)
	assert.Equal(t, token.Address("SAFER"), alerts[0].Address)
	assert.Equal(t, token.Address("RISKY"), alerts[1].Address)
}

func TestRank_CooldownSuppressesRepeatAlerts(t *testing.T) {
	e := New(testRankingConfig())
	now := time.Now()

	e.Submit(evaluation("T1", 85, 0.1, now))
	first := e.Rank(now)
	require.Len(t, first, 1)

	// Resubmitted within the cooldown: suppressed.
	e.Submit(evaluation("T1", 88, 0.1, now.Add(time.Minute)))
	second := e.Rank(now.Add(time.Minute))
	assert.Empty(t, second)

	// After the cooldown, the token can alert again.
	e.Submit(evaluation("T1", 88, 0.1, now.Add(11*time.Minute)))
	third := e.Rank(now.Add(11 * time.Minute))
	assert.Len(t, third, 1)
}

func TestRank_CooldownScaleStretchesCooldown(t *testing.T) {
	e := New(testRankingConfig())
	e.CooldownScale = func() float64 { return 2.0 }
	now := time.Now()

	e.Submit(evaluation("T1", 85, 0.1, now))
	require.Len(t, e.Rank(now), 1)

	// 11 minutes clears the base 10-minute cooldown but not the doubled one.
	e.Submit(evaluation("T1", 85, 0.1, now.Add(11*time.Minute)))
	assert.Empty(t, e.Rank(now.Add(11*time.Minute)))

	e.Submit(evaluation("T1", 85, 0.1, now.Add(21*time.Minute)))
	assert.Len(t, e.Rank(now.Add(21*time.Minute)), 1)
}

func TestRank_WindowExpiry(t *testing.T) {
	e := New(testRankingConfig())
	now := time.Now()

	e.Submit(evaluation("STALE", 95, 0.1, now.Add(-10*time.Minute)))
	e.Submit(evaluation("FRESH", 60, 0.1, now))

	alerts := e.Rank(now)
	require.Len(t, alerts, 1)
	assert.Equal(t, token.Address("FRESH"), alerts[0].Address)
	assert.Zero(t, e.Pending())
}

func TestRank_FlushDiscardsNonEmittedCandidates(t *testing.T) {
	e := New(testRankingConfig())
	now := time.Now()

	// Five passing candidates against a top-3 budget.
	for i, score := range []float64{91, 88, 84, 72, 61} {
		e.Submit(evaluation(fmt.Sprintf("T%d", i), score, 0.1, now))
	}

	first := e.Rank(now)
	require.Len(t, first, 3)
	assert.Zero(t, e.Pending())

	// The two runners-up were discarded with the window, not carried over.
	second := e.Rank(now.Add(time.Second))
	assert.Empty(t, second)
}

func TestSubmit_IgnoresFailedEvaluations(t *testing.T) {
	e := New(testRankingConfig())

	ev := evaluation("T1", 80, 0.1, time.Now())
	ev.Passed = false
	e.Submit(ev)
	e.Submit(nil)

	assert.Zero(t, e.Pending())
}

func TestSubmit_NewerEvaluationReplaces(t *testing.T) {
	e := New(testRankingConfig())
	now := time.Now()

	e.Submit(evaluation("T1", 60, 0.1, now))
	e.Submit(evaluation("T1", 92, 0.1, now))

	alerts := e.Rank(now)
	require.Len(t, alerts, 1)
	assert.Equal(t, 92.0, alerts[0].Composite)
}

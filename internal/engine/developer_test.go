package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexintel/sentinel/internal/token"
)

func auxWithDeployer(deployer string) *token.Aux {
	return &token.Aux{Contract: &token.ContractInfo{Deployer: deployer}}
}

func TestReputationStore_RecordAndLookup(t *testing.T) {
	s := NewReputationStore()

	_, ok := s.Lookup("DEV1")
	assert.False(t, ok)

	s.RecordLaunch("DEV1", time.Now())
	s.RecordOutcome("DEV1", false)
	s.RecordOutcome("DEV1", true)

	rec, ok := s.Lookup("DEV1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Launches)
	assert.Equal(t, 1, rec.Successes)
	assert.Equal(t, 1, rec.Rugs)
}

func TestReputationStore_EmptyDeployerIgnored(t *testing.T) {
	s := NewReputationStore()
	s.RecordLaunch("", time.Now())
	s.RecordOutcome("", true)
	_, ok := s.Lookup("")
	assert.False(t, ok)
}

func TestDeveloperEngine_UnknownDeployerNeutral(t *testing.T) {
	e := NewDeveloperEngine(NewReputationStore())

	res := e.Score(healthySnapshot(), nil)
	assert.True(t, res.Neutral)
	assert.True(t, res.HasFlag(FlagUnknownDev))

	res = e.Score(healthySnapshot(), auxWithDeployer("DEVnew"))
	assert.True(t, res.Neutral)
	assert.True(t, res.HasFlag(FlagUnknownDev))
}

func TestDeveloperEngine_SuccessesRaiseScore(t *testing.T) {
	s := NewReputationStore()
	s.RecordLaunch("DEV1", time.Now())
	s.RecordOutcome("DEV1", false)
	s.RecordOutcome("DEV1", false)

	e := NewDeveloperEngine(s)
	res := e.Score(healthySnapshot(), auxWithDeployer("DEV1"))

	// 50 + 2*30 = 110, clamped to 100.
	assert.Equal(t, 100.0, res.Score)
	assert.True(t, res.HasFlag(FlagProvenDev))
}

func TestDeveloperEngine_RugsSinkScore(t *testing.T) {
	s := NewReputationStore()
	s.RecordLaunch("RUGDEV", time.Now())
	s.RecordOutcome("RUGDEV", true)

	e := NewDeveloperEngine(s)
	res := e.Score(healthySnapshot(), auxWithDeployer("RUGDEV"))

	// 50 - 50 = 0.
	assert.Equal(t, 0.0, res.Score)
	assert.True(t, res.HasFlag(FlagKnownRugger))
}

func TestDeveloperEngine_SerialDeployerFlagged(t *testing.T) {
	s := NewReputationStore()
	for i := 0; i < 5; i++ {
		s.RecordLaunch("SERIAL", time.Now())
	}
	s.RecordOutcome("SERIAL", false)

	e := NewDeveloperEngine(s)
	res := e.Score(healthySnapshot(), auxWithDeployer("SERIAL"))
	assert.True(t, res.HasFlag(FlagSerialDeployer))
}

func TestClassifyDev_Tiers(t *testing.T) {
	assert.Equal(t, DevTierTrusted, classifyDev(80))
	assert.Equal(t, DevTierNeutral, classifyDev(79))
	assert.Equal(t, DevTierNeutral, classifyDev(50))
	assert.Equal(t, DevTierRisky, classifyDev(49))
	assert.Equal(t, DevTierRisky, classifyDev(25))
	assert.Equal(t, DevTierRugger, classifyDev(24))
}

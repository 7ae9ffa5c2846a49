package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/dexintel/sentinel/internal/token"
)

// Developer flags.
const (
	FlagKnownRugger    Flag = "KNOWN_RUGGER"
	FlagSerialDeployer Flag = "SERIAL_DEPLOYER"
	FlagUnknownDev     Flag = "UNKNOWN_DEVELOPER"
	FlagProvenDev      Flag = "PROVEN_DEVELOPER"
)

// DevTier buckets a developer's track record.
type DevTier string

const (
	DevTierTrusted DevTier = "trusted"
	DevTierNeutral DevTier = "neutral"
	DevTierRisky   DevTier = "risky"
	DevTierRugger  DevTier = "rugger"
)

// DevRecord is the accumulated history for one deployer wallet.
type DevRecord struct {
	Deployer     string    `json:"deployer"`
	Launches     int       `json:"launches"`
	Successes    int       `json:"successes"`
	Rugs         int       `json:"rugs"`
	LastLaunchAt time.Time `json:"last_launch_at"`
}

// ReputationStore tracks deployer wallet history across launches. Safe for
// concurrent use.
type ReputationStore struct {
	mu      sync.RWMutex
	records map[string]*DevRecord
}

func NewReputationStore() *ReputationStore {
	return &ReputationStore{records: make(map[string]*DevRecord)}
}

// RecordLaunch notes that a deployer launched a new token.
func (s *ReputationStore) RecordLaunch(deployer string, at time.Time) {
	if deployer == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(deployer)
	r.Launches++
	if at.After(r.LastLaunchAt) {
		r.LastLaunchAt = at
	}
}

// RecordOutcome marks a previous launch as a success or a rug.
func (s *ReputationStore) RecordOutcome(deployer string, rugged bool) {
	if deployer == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(deployer)
	if rugged {
		r.Rugs++
	} else {
		r.Successes++
	}
}

// Lookup returns a copy of the deployer's record, if any.
func (s *ReputationStore) Lookup(deployer string) (DevRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[deployer]
	if !ok {
		return DevRecord{}, false
	}
	return *r, true
}

func (s *ReputationStore) get(deployer string) *DevRecord {
	r, ok := s.records[deployer]
	if !ok {
		r = &DevRecord{Deployer: deployer}
		s.records[deployer] = r
	}
	return r
}

// DeveloperEngine scores the deployer wallet's track record. Starts at a
// 50-point baseline; each recorded success adds 30, each rug subtracts 50.
type DeveloperEngine struct {
	store *ReputationStore
}

func NewDeveloperEngine(store *ReputationStore) *DeveloperEngine {
	return &DeveloperEngine{store: store}
}

func (e *DeveloperEngine) Name() string { return NameDeveloper }

func (e *DeveloperEngine) Score(snap *token.Snapshot, aux *token.Aux) Result {
	if aux == nil || aux.Contract == nil || aux.Contract.Deployer == "" {
		res := Neutral(NameDeveloper)
		res.Flags = append(res.Flags, FlagUnknownDev)
		return res
	}

	rec, known := e.store.Lookup(aux.Contract.Deployer)
	if !known {
		res := Neutral(NameDeveloper)
		res.Flags = append(res.Flags, FlagUnknownDev)
		return res
	}

	score := clamp(50+float64(rec.Successes)*30-float64(rec.Rugs)*50, 0, 100)
	res := Result{Engine: NameDeveloper, Score: score, MaxScore: 100}

	switch tier := classifyDev(score); tier {
	case DevTierTrusted:
		res.Flags = append(res.Flags, FlagProvenDev)
	case DevTierRugger:
		res.Flags = append(res.Flags, FlagKnownRugger)
	}
	if rec.Rugs > 0 {
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("deployer rugged %d of %d launches", rec.Rugs, rec.Launches))
	}
	if rec.Launches >= 5 {
		res.Flags = append(res.Flags, FlagSerialDeployer)
		res.Evidence = append(res.Evidence,
			fmt.Sprintf("deployer has %d launches on record", rec.Launches))
	}

	return res
}

// classifyDev buckets a developer score into tiers: >=80 trusted, >=50
// neutral, >=25 risky, below that rugger.
func classifyDev(score float64) DevTier {
	switch {
	case score >= 80:
		return DevTierTrusted
	case score >= 50:
		return DevTierNeutral
	case score >= 25:
		return DevTierRisky
	default:
		return DevTierRugger
	}
}

// Package watch tracks alerted tokens after the alert fires. Each watched
// token moves through a small state machine: Active while being observed,
// Escalated when a trigger fires, back to Active if conditions calm, and
// Expired when its TTL runs out or it is cancelled.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// State is a watch entry's lifecycle stage.
type State string

const (
	StateActive    State = "active"
	StateEscalated State = "escalated"
	StateExpired   State = "expired"
)

// EventKind identifies why a watch event fired.
type EventKind string

const (
	EventPriceMove    EventKind = "price_move"
	EventVolumeSpike  EventKind = "volume_spike"
	EventRiskJump     EventKind = "risk_jump"
	EventDeescalated  EventKind = "deescalated"
	EventExpired      EventKind = "expired"
	EventEvicted      EventKind = "evicted"
	EventExitAdvised  EventKind = "exit_advised"
)

// Event is emitted on every state transition and trigger.
type Event struct {
	Address token.Address `json:"address"`
	Kind    EventKind     `json:"kind"`
	State   State         `json:"state"`
	Detail  string        `json:"detail,omitempty"`
	At      time.Time     `json:"at"`
}

// Entry is one watched token.
type Entry struct {
	Address token.Address
	Symbol  string
	State   State

	StartedAt   time.Time
	EscalatedAt time.Time

	basePrice  decimal.Decimal
	baseVolume decimal.Decimal
	baseRisk   float64

	lastPrice decimal.Decimal
	lastRisk  float64
}

// Manager owns all watch entries. Events go out on a buffered channel with
// non-blocking sends; a slow consumer drops events rather than stalling
// the tick loop.
type Manager struct {
	cfg    config.WatchConfig
	events chan Event

	mu      sync.Mutex
	entries map[token.Address]*Entry
}

func NewManager(cfg config.WatchConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		events:  make(chan Event, 256),
		entries: make(map[token.Address]*Entry),
	}
}

// Events is the outbound transition stream.
func (m *Manager) Events() <-chan Event { return m.events }

// Add starts watching a token from the given baseline. When the manager is
// at capacity the oldest entry is evicted first. Adding an address already
// under watch refreshes its baseline and TTL.
func (m *Manager) Add(snap *token.Snapshot, riskScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[snap.Address]; ok {
		e.StartedAt = now
		e.basePrice = snap.PriceUSD
		e.baseVolume = snap.Volume24hUSD
		e.baseRisk = riskScore
		return
	}

	if len(m.entries) >= m.cfg.MaxConcurrent {
		m.evictOldestLocked(now)
	}

	m.entries[snap.Address] = &Entry{
		Address:    snap.Address,
		Symbol:     snap.Symbol,
		State:      StateActive,
		StartedAt:  now,
		basePrice:  snap.PriceUSD,
		baseVolume: snap.Volume24hUSD,
		baseRisk:   riskScore,
		lastPrice:  snap.PriceUSD,
		lastRisk:   riskScore,
	}
	log.Info().Str("token", string(snap.Address)).Msg("watch started")
}

func (m *Manager) evictOldestLocked(now time.Time) {
	var oldest *Entry
	for _, e := range m.entries {
		if oldest == nil || e.StartedAt.Before(oldest.StartedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	delete(m.entries, oldest.Address)
	m.emit(Event{Address: oldest.Address, Kind: EventEvicted, State: StateExpired, At: now})
}

// Cancel stops watching a token. Cancelling an unknown address is a no-op,
// as is cancelling twice.
func (m *Manager) Cancel(addr token.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[addr]; !ok {
		return
	}
	delete(m.entries, addr)
	m.emit(Event{Address: addr, Kind: EventExpired, State: StateExpired, At: time.Now()})
}

// Update feeds a fresh snapshot and risk score for a watched token and runs
// the trigger checks. Unknown addresses are ignored.
func (m *Manager) Update(snap *token.Snapshot, riskScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[snap.Address]
	if !ok {
		return
	}
	now := time.Now()

	var fired []Event

	if !e.basePrice.IsZero() {
		change := snap.PriceUSD.Sub(e.basePrice).Div(e.basePrice).InexactFloat64() * 100
		if abs(change) >= m.cfg.PriceChangeThreshold {
			fired = append(fired, Event{
				Address: e.Address, Kind: EventPriceMove,
				Detail: fmt.Sprintf("%+.1f%% from watch baseline", change), At: now,
			})
		}
	}
	if !e.baseVolume.IsZero() {
		mult := snap.Volume24hUSD.Div(e.baseVolume).InexactFloat64()
		if mult >= m.cfg.VolumeSpikeMultiplier {
			fired = append(fired, Event{
				Address: e.Address, Kind: EventVolumeSpike,
				Detail: fmt.Sprintf("volume %.1fx baseline", mult), At: now,
			})
		}
	}
	if riskScore-e.baseRisk >= m.cfg.RiskScoreJump {
		fired = append(fired, Event{
			Address: e.Address, Kind: EventRiskJump,
			Detail: fmt.Sprintf("risk %.0f -> %.0f", e.baseRisk, riskScore), At: now,
		})
	}

	if len(fired) > 0 {
		if e.State != StateEscalated {
			e.State = StateEscalated
			e.EscalatedAt = now
		}
		for i := range fired {
			fired[i].State = StateEscalated
			m.emit(fired[i])
		}
		// A risk jump on an escalated entry is the exit signal.
		if riskScore-e.baseRisk >= m.cfg.RiskScoreJump {
			m.emit(Event{
				Address: e.Address, Kind: EventExitAdvised, State: StateEscalated,
				Detail: "risk deteriorating while escalated", At: now,
			})
		}
	} else if e.State == StateEscalated {
		e.State = StateActive
		m.emit(Event{Address: e.Address, Kind: EventDeescalated, State: StateActive, At: now})
	}

	e.lastPrice = snap.PriceUSD
	e.lastRisk = riskScore
}

// Tick expires entries past their TTL. Call once per tick interval.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ttl := time.Duration(m.cfg.TTLMinutes) * time.Minute
	for addr, e := range m.entries {
		if now.Sub(e.StartedAt) >= ttl {
			delete(m.entries, addr)
			m.emit(Event{Address: addr, Kind: EventExpired, State: StateExpired, At: now})
		}
	}
}

// Recommendation is the exit assistant's verdict for a watched token.
type Recommendation string

const (
	RecommendHold    Recommendation = "hold"
	RecommendReduce  Recommendation = "reduce"
	RecommendExitNow Recommendation = "exit_now"
)

// Advise derives a deterministic recommendation for a watched token from
// its state and the current risk score. Unwatched tokens get hold.
func (m *Manager) Advise(addr token.Address, riskScore float64) Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[addr]
	if !ok {
		return RecommendHold
	}
	if e.State == StateEscalated {
		if riskScore-e.baseRisk >= m.cfg.RiskScoreJump {
			return RecommendExitNow
		}
		return RecommendReduce
	}
	return RecommendHold
}

// Watching reports whether the address is currently under watch, and in
// which state.
func (m *Manager) Watching(addr token.Address) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[addr]
	if !ok {
		return "", false
	}
	return e.State, true
}

// Len returns the number of active watch entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("token", string(ev.Address)).Str("kind", string(ev.Kind)).
			Msg("watch event dropped, consumer too slow")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

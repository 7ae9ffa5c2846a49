// Package defense implements the self-defense controller: it samples the
// pipeline's own health and shifts the system between operating modes so an
// overloaded or failing instance sheds work instead of falling over.
package defense

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexintel/sentinel/internal/config"
)

// Mode is the pipeline's current operating posture.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeDegraded Mode = "degraded"
	ModeSafe     Mode = "safe_mode"
)

// severity orders modes for escalation comparisons.
func severity(m Mode) int {
	switch m {
	case ModeSafe:
		return 2
	case ModeDegraded:
		return 1
	default:
		return 0
	}
}

// Warning thresholds sit below the configured ceilings: error rate and
// latency warn at half the ceiling, memory and CPU at 80%.
const (
	warnRateFactor = 0.5
	warnSizeFactor = 0.8
)

// Sample is one health observation. Use NaN for any metric that could not
// be collected this cycle; a missing metric never counts against health.
type Sample struct {
	ErrorRate  float64   `json:"error_rate"`
	LatencyMs  float64   `json:"latency_ms"`
	MemoryMB   float64   `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
	At         time.Time `json:"at"`
}

// Transition records one mode change for the admin stream.
type Transition struct {
	From   Mode      `json:"from"`
	To     Mode      `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Controller evaluates samples against the configured ceilings. Any ceiling
// breach escalates straight to safe mode; a warning-level breach degrades.
// De-escalation is hysteretic: it takes RecoverySamples consecutive calmer
// samples to step down one mode.
type Controller struct {
	cfg         config.DefenseConfig
	transitions chan Transition

	mu             sync.Mutex
	mode           Mode
	calmStreak     int
	lastTransition time.Time
	lastSample     Sample
	haveSample     bool
}

func NewController(cfg config.DefenseConfig) *Controller {
	return &Controller{
		cfg:         cfg,
		mode:        ModeNormal,
		transitions: make(chan Transition, 16),
	}
}

// Transitions is the admin escalation stream: exactly one entry per mode
// change.
func (c *Controller) Transitions() <-chan Transition { return c.transitions }

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// InSafeMode reports whether non-critical work should be skipped.
func (c *Controller) InSafeMode() bool { return c.Mode() == ModeSafe }

// LastSample returns the most recently observed sample. ok is false until
// the first observation.
func (c *Controller) LastSample() (s Sample, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSample, c.haveSample
}

// PollMultiplier scales the feed poll interval for the current mode:
// 1x normal, 1.5x degraded, 2x in safe mode.
func (c *Controller) PollMultiplier() float64 {
	switch c.Mode() {
	case ModeDegraded:
		return 1.5
	case ModeSafe:
		return 2.0
	default:
		return 1.0
	}
}

// CooldownMultiplier lengthens alert cooldowns while in safe mode.
func (c *Controller) CooldownMultiplier() float64 {
	if c.InSafeMode() {
		return c.cfg.SafeModeCooldownMul
	}
	return 1.0
}

// Observe evaluates one sample and returns the resulting mode. Escalation
// is immediate; stepping down requires RecoverySamples consecutive samples
// evaluating below the current mode, and descends one mode at a time.
func (c *Controller) Observe(s Sample) Mode {
	target, reason := c.evaluate(s)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSample = s
	c.haveSample = true

	switch {
	case severity(target) > severity(c.mode):
		c.setModeLocked(target, reason, s.At)
		c.calmStreak = 0
	case severity(target) == severity(c.mode):
		// Still at the level that put us here; recovery starts over.
		c.calmStreak = 0
	default:
		c.calmStreak++
		if c.calmStreak >= c.cfg.RecoverySamples {
			switch c.mode {
			case ModeSafe:
				c.setModeLocked(ModeDegraded, "health recovered", s.At)
			case ModeDegraded:
				c.setModeLocked(ModeNormal, "health recovered", s.At)
			}
			c.calmStreak = 0
		}
	}
	return c.mode
}

// evaluate maps a sample to the mode it demands, most severe first.
func (c *Controller) evaluate(s Sample) (Mode, string) {
	if breaches := c.breaches(s, 1.0, 1.0); len(breaches) > 0 {
		return ModeSafe, joinReasons(breaches)
	}
	if warns := c.breaches(s, warnRateFactor, warnSizeFactor); len(warns) > 0 {
		return ModeDegraded, joinReasons(warns)
	}
	return ModeNormal, ""
}

func (c *Controller) breaches(s Sample, rateFactor, sizeFactor float64) []string {
	var out []string
	if limit := c.cfg.MaxErrorRate * rateFactor; !math.IsNaN(s.ErrorRate) && s.ErrorRate > limit {
		out = append(out, fmt.Sprintf("error rate %.2f > %.2f", s.ErrorRate, limit))
	}
	if limit := c.cfg.MaxLatencyMs * rateFactor; !math.IsNaN(s.LatencyMs) && s.LatencyMs > limit {
		out = append(out, fmt.Sprintf("latency %.0fms > %.0fms", s.LatencyMs, limit))
	}
	if limit := c.cfg.MaxMemoryMB * sizeFactor; !math.IsNaN(s.MemoryMB) && s.MemoryMB > limit {
		out = append(out, fmt.Sprintf("memory %.0fMB > %.0fMB", s.MemoryMB, limit))
	}
	if limit := c.cfg.MaxCPUPercent * sizeFactor; !math.IsNaN(s.CPUPercent) && s.CPUPercent > limit {
		out = append(out, fmt.Sprintf("cpu %.0f%% > %.0f%%", s.CPUPercent, limit))
	}
	return out
}

func (c *Controller) setModeLocked(next Mode, reason string, at time.Time) {
	if next == c.mode {
		return
	}
	prev := c.mode
	c.mode = next
	c.lastTransition = at
	if at.IsZero() {
		c.lastTransition = time.Now()
	}

	log.Warn().
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("reason", reason).
		Msg("defense mode transition")

	select {
	case c.transitions <- Transition{From: prev, To: next, Reason: reason, At: c.lastTransition}:
	default:
		log.Error().Msg("defense transition dropped, admin consumer too slow")
	}
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

// SelfSample collects the metrics the process can measure about itself.
// Error rate, latency and CPU come from the caller's own accounting; pass
// NaN when unknown.
func SelfSample(errorRate, latencyMs, cpuPercent float64) Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Sample{
		ErrorRate:  errorRate,
		LatencyMs:  latencyMs,
		MemoryMB:   float64(ms.Alloc) / (1 << 20),
		CPUPercent: cpuPercent,
		At:         time.Now(),
	}
}

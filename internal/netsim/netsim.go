// Package netsim implements the probabilistic wireless link model used by
// the Topology Engine and Delivery Engine: range checks, signal strength,
// delivery-failure probability, and transmission delay.
package netsim

import (
	"math"
	"math/rand"
)

// RandSource is the injectable randomness boundary required by
// SPEC_FULL.md §4.2 so tests can pin delivery/signal outcomes instead of
// depending on wall-clock entropy.
type RandSource interface {
	// Float64 returns a pseudo-random number in [0, 1).
	Float64() float64
	// NormFloat64 returns a sample from the standard normal distribution.
	NormFloat64() float64
}

// defaultRand wraps math/rand.Rand as the production RandSource.
type defaultRand struct {
	r *rand.Rand
}

// NewDefaultRand returns a RandSource seeded from the given value. Tests
// that need reproducible runs pass a fixed seed; production code may seed
// from time.Now().UnixNano().
func NewDefaultRand(seed int64) RandSource {
	return &defaultRand{r: rand.New(rand.NewSource(seed))}
}

func (d *defaultRand) Float64() float64     { return d.r.Float64() }
func (d *defaultRand) NormFloat64() float64 { return d.r.NormFloat64() }

// Config holds the tunable parameters of the link model, per
// SPEC_FULL.md §4.2 / spec.md §6.
type Config struct {
	Range              float64 // maximum communication range, distance units
	FailureRate        float64 // base failure rate f in [0,1]
	InterferenceLevel  float64 // interference level ι in [0,1]
	BaseLatencyMS      float64 // base latency L, milliseconds
	LatencyVariationMS float64 // latency variation σ, milliseconds
}

// Named presets from spec.md §4.2.
func HighQualityPreset() Config {
	return Config{Range: 120, FailureRate: 0.01, InterferenceLevel: 0.05, BaseLatencyMS: 100, LatencyVariationMS: 25}
}

func RealisticPreset() Config {
	return Config{Range: 100, FailureRate: 0.05, InterferenceLevel: 0.10, BaseLatencyMS: 150, LatencyVariationMS: 50}
}

func PoorPreset() Config {
	return Config{Range: 80, FailureRate: 0.15, InterferenceLevel: 0.30, BaseLatencyMS: 300, LatencyVariationMS: 100}
}

// Simulator is the production-style collaborator the Topology and Delivery
// engines consult. It carries no per-agent state; everything is computed
// from the distance passed in by the caller.
type Simulator struct {
	cfg  Config
	rand RandSource
}

// New builds a Simulator with the given config. A nil RandSource falls
// back to NewDefaultRand(1), a fixed-seed default.
func New(cfg Config, src RandSource) *Simulator {
	if src == nil {
		src = NewDefaultRand(1)
	}
	return &Simulator{cfg: cfg, rand: src}
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() Config { return s.cfg }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SignalStrength computes s for a given distance, per spec.md §4.2:
//
//	s = clamp(0,1, (1 - d/R) - ι*(1 - d/R) + N(0, 0.05^2))   for d <= R
//	s = 0                                                     for d > R
func (s *Simulator) SignalStrength(distance float64) float64 {
	if distance > s.cfg.Range {
		return 0
	}
	proximity := 1 - distance/s.cfg.Range
	noise := s.rand.NormFloat64() * 0.05
	return clamp01(proximity - s.cfg.InterferenceLevel*proximity + noise)
}

// CanCommunicate reports whether a link at the given distance counts as a
// communicating neighbor: in range AND signal strength >= 0.3.
func (s *Simulator) CanCommunicate(distance, signalStrength float64) bool {
	return distance <= s.cfg.Range && signalStrength >= 0.3
}

// deliveryFailureProbability is f + 0.3*(1-s), per spec.md §4.2.
func (s *Simulator) deliveryFailureProbability(signalStrength float64) float64 {
	return s.cfg.FailureRate + 0.3*(1-signalStrength)
}

// delayMillis is max(10, L + 50*(d/R) + N(0, σ^2)), rounded, per spec.md §4.2.
func (s *Simulator) delayMillis(distance float64) int64 {
	noise := s.rand.NormFloat64() * s.cfg.LatencyVariationMS
	raw := s.cfg.BaseLatencyMS + 50*(distance/s.cfg.Range) + noise
	rounded := math.Round(raw)
	if rounded < 10 {
		return 10
	}
	return int64(rounded)
}

// SimulateDelivery returns whether a delivery attempt over the given
// distance succeeds, the signal strength observed (returned even on
// failure so callers can record quality-of-last-attempt), and the delay
// in milliseconds that would apply if delivered.
func (s *Simulator) SimulateDelivery(distance float64) (willDeliver bool, signalStrength float64, delayMS int64) {
	if distance > s.cfg.Range {
		return false, 0, 0
	}
	signalStrength = s.SignalStrength(distance)
	failureProb := s.deliveryFailureProbability(signalStrength)
	willDeliver = s.rand.Float64() >= failureProb
	delayMS = s.delayMillis(distance)
	return willDeliver, signalStrength, delayMS
}

package simulator

import (
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/modbus"
	"github.com/shopspring/decimal"
)

// Signal describes one simulated sensor: a sine around Base plus uniform
// noise, clamped to [Min, Max].
type Signal struct {
	Name      string
	Unit      string
	Base      float64
	Amplitude float64
	Frequency float64 // rad/s
	Noise     float64
	Min       float64
	Max       float64
}

// Profile maps register addresses to signals.
type Profile map[uint16]Signal

// DefaultProfile is the five-sensor test bench on D20..D24.
func DefaultProfile() Profile {
	return Profile{
		20: {Name: "Temperature", Unit: "°C", Base: 25, Amplitude: 10, Frequency: 0.1, Noise: 2, Min: 20, Max: 80},
		21: {Name: "Vibration", Unit: "Hz", Base: 50, Amplitude: 15, Frequency: 0.2, Noise: 5, Min: 0, Max: 100},
		22: {Name: "Shock", Unit: "g", Base: 2, Amplitude: 1.5, Frequency: 0.3, Noise: 0.5, Min: 0, Max: 10},
		23: {Name: "Oil Supply", Unit: "%", Base: 85, Amplitude: 10, Frequency: 0.05, Noise: 3, Min: 0, Max: 100},
		24: {Name: "Sound", Unit: "dB", Base: 60, Amplitude: 8, Frequency: 0.15, Noise: 4, Min: 30, Max: 90},
	}
}

// Value computes the signal at elapsed time, rounded to two decimals.
// noise is a sample in [-1, 1).
func (s Signal) Value(elapsed time.Duration, noise float64) float64 {
	v := s.Base +
		s.Amplitude*math.Sin(s.Frequency*elapsed.Seconds()) +
		s.Noise*noise
	v = min(max(v, s.Min), s.Max)
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Generator produces register words for a profile.
type Generator struct {
	profile Profile
	start   time.Time
	rng     *rand.Rand
}

func NewGenerator(profile Profile, start time.Time, seed uint64) *Generator {
	return &Generator{
		profile: profile,
		start:   start,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Sample returns the scaled register words at now. Values that cannot be
// encoded (negative after clamping to a negative Min) are skipped.
func (g *Generator) Sample(now time.Time) map[uint16]uint16 {
	elapsed := now.Sub(g.start)
	out := make(map[uint16]uint16, len(g.profile))
	// feste Reihenfolge, sonst ist der Seed wertlos
	for _, addr := range slices.Sorted(maps.Keys(g.profile)) {
		sig := g.profile[addr]
		noise := g.rng.Float64()*2 - 1
		raw, err := modbus.Encode(sig.Value(elapsed, noise), modbus.DefaultScale)
		if err != nil {
			continue
		}
		out[addr] = raw
	}
	return out
}

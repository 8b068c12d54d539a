package vitals

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source defines the interface for a heart rate / SpO2 signal source
type Source interface {
	// Sample returns the next heart rate (bpm) and SpO2 (%) values.
	// It never fails.
	Sample() (heartRate int, spo2 int)

	// ShiftActivity re-centres the baseline to simulate a change of activity level
	ShiftActivity()
}

// Output clamps for the simulated pulse oximeter
const (
	MinHeartRate = 50
	MaxHeartRate = 130
	MinSpO2      = 90
	MaxSpO2      = 100
)

// Random-walk parameters
const (
	hrTrendStep    = 0.5
	hrTrendLimit   = 5.0
	hrJitter       = 3
	spo2TrendStep  = 0.2
	spo2TrendLimit = 2.0
	spo2Jitter     = 1

	defaultBaseHR   = 75
	defaultBaseSpO2 = 98
)

// ActivityLevel names a baseline band the source can shift to
type ActivityLevel string

const (
	ActivityRest   ActivityLevel = "rest"
	ActivityNormal ActivityLevel = "normal"
	ActivityActive ActivityLevel = "active"
)

// activityBands maps each level to its inclusive heart rate baseline range
var activityBands = map[ActivityLevel][2]int{
	ActivityRest:   {60, 70},
	ActivityNormal: {70, 85},
	ActivityActive: {85, 110},
}

var activityLevels = []ActivityLevel{ActivityRest, ActivityNormal, ActivityActive}

// SimulatedSource produces correlated samples from a bounded random walk.
// It is safe for concurrent use.
type SimulatedSource struct {
	mu        sync.Mutex
	rng       *rand.Rand
	baseHR    int
	baseSpO2  int
	hrTrend   float64
	spo2Trend float64
	activity  ActivityLevel
}

// NewSimulatedSource creates a source seeded from the clock
func NewSimulatedSource() *SimulatedSource {
	seed := uint64(time.Now().UnixNano())
	return NewSeededSource(seed)
}

// NewSeededSource creates a deterministic source, useful for tests
func NewSeededSource(seed uint64) *SimulatedSource {
	return &SimulatedSource{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		baseHR:   defaultBaseHR,
		baseSpO2: defaultBaseSpO2,
		activity: ActivityNormal,
	}
}

// Sample nudges the trends, adds jitter and clamps to the plausible range
func (s *SimulatedSource) Sample() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hrTrend = clampFloat(s.hrTrend+s.uniform(hrTrendStep), -hrTrendLimit, hrTrendLimit)
	s.spo2Trend = clampFloat(s.spo2Trend+s.uniform(spo2TrendStep), -spo2TrendLimit, spo2TrendLimit)

	hr := int(float64(s.baseHR) + s.hrTrend + float64(s.jitter(hrJitter)))
	spo2 := int(float64(s.baseSpO2) + s.spo2Trend + float64(s.jitter(spo2Jitter)))

	return clampInt(hr, MinHeartRate, MaxHeartRate), clampInt(spo2, MinSpO2, MaxSpO2)
}

// ShiftActivity picks a new activity level and a heart rate baseline inside its band.
// The trend is kept, so output converges on the new baseline over the next samples.
func (s *SimulatedSource) ShiftActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := activityLevels[s.rng.IntN(len(activityLevels))]
	band := activityBands[level]
	s.activity = level
	s.baseHR = band[0] + s.rng.IntN(band[1]-band[0]+1)
}

// Activity returns the current activity level and heart rate baseline
func (s *SimulatedSource) Activity() (ActivityLevel, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity, s.baseHR
}

// uniform returns a value in [-limit, limit)
func (s *SimulatedSource) uniform(limit float64) float64 {
	return (s.rng.Float64()*2 - 1) * limit
}

// jitter returns an integer in [-limit, limit]
func (s *SimulatedSource) jitter(limit int) int {
	return s.rng.IntN(2*limit+1) - limit
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

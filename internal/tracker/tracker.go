package tracker

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/model"
)

// Decision classifies a single sensor reading against the signal's baseline.
type Decision string

const (
	// Spike means the reading is far enough above baseline, or rising fast
	// enough for temperature, to indicate an activity event like a shower.
	Spike Decision = "spike"
	// Decaying means the fan is running on this signal and the elevation
	// has fallen back inside the release band.
	Decaying Decision = "decaying"
	// Stable means nothing actionable happened.
	Stable Decision = "stable"
)

const (
	humidityBaselineWeight  = 0.95
	humiditySampleWeight    = 0.05
	humidityReleaseFraction = 0.4
	humidityDriftFraction   = 0.5

	temperatureBaselineWeight  = 0.98
	temperatureSampleWeight    = 0.02
	temperatureReleaseFraction = 0.5
	temperatureDriftFraction   = 0.3
	temperatureRapidRiseRate   = 1.0
	temperatureMaxDriftRate    = 0.5

	maxHistory = 5
)

// Tracker follows one environmental signal for one room. The baseline is an
// exponential moving average that only absorbs readings while the signal is
// quiet, so a shower's excursion never drags the reference point up after it.
type Tracker struct {
	room string
	kind model.SignalKind

	threshold float64

	baselineWeight float64
	sampleWeight   float64

	// Fractions of threshold: below releaseFraction an owned signal counts
	// as decayed, below driftFraction a stable reading feeds the baseline.
	releaseFraction float64
	driftFraction   float64

	// Rate thresholds in units per minute; zero disables rate handling and
	// no history is kept.
	rapidRiseRate float64
	maxDriftRate  float64

	baseline  float64
	lastValue float64
	prevValue float64
	seeded    bool

	history []model.Sample
}

func NewHumidity(room string, threshold float64) *Tracker {
	return &Tracker{
		room:            room,
		kind:            model.SignalHumidity,
		threshold:       threshold,
		baselineWeight:  humidityBaselineWeight,
		sampleWeight:    humiditySampleWeight,
		releaseFraction: humidityReleaseFraction,
		driftFraction:   humidityDriftFraction,
	}
}

func NewTemperature(room string, threshold float64) *Tracker {
	return &Tracker{
		room:            room,
		kind:            model.SignalTemperature,
		threshold:       threshold,
		baselineWeight:  temperatureBaselineWeight,
		sampleWeight:    temperatureSampleWeight,
		releaseFraction: temperatureReleaseFraction,
		driftFraction:   temperatureDriftFraction,
		rapidRiseRate:   temperatureRapidRiseRate,
		maxDriftRate:    temperatureMaxDriftRate,
	}
}

// Seed establishes the starting baseline, typically from the retained sensor
// value observed during startup hydration.
func (t *Tracker) Seed(value float64, now time.Time) {
	t.baseline = value
	t.lastValue = value
	t.prevValue = value
	t.seeded = true
	if t.rapidRiseRate > 0 {
		t.history = []model.Sample{{Timestamp: now, Value: value}}
	}
}

// Observe classifies a reading and updates tracker state. owned reports
// whether the fan is currently running on this signal's account, which
// switches the tracker from spike detection to decay detection.
func (t *Tracker) Observe(value float64, now time.Time, owned bool) Decision {
	if !t.seeded {
		t.Seed(value, now)
		log.Debug().Str("room", t.room).Str("signal", string(t.kind)).
			Float64("value", value).Msg("Seeded baseline from first reading")
		return Stable
	}

	delta := value - t.baseline
	rate, haveRate := t.sampleRate(value, now)

	decision := Stable
	switch {
	case delta >= t.threshold:
		decision = Spike
	case haveRate && rate > t.rapidRiseRate && value > t.prevValue:
		decision = Spike
	case owned:
		if delta < t.releaseFraction*t.threshold {
			decision = Decaying
		}
		// Still inside the release band: hold the baseline so it does not
		// chase the excursion upward while the fan runs.
	case t.inDriftBand(delta, rate, haveRate):
		t.baseline = t.baselineWeight*t.baseline + t.sampleWeight*value
		log.Debug().Str("room", t.room).Str("signal", string(t.kind)).
			Float64("value", value).Float64("baseline", t.baseline).Msg("Baseline drift")
	}

	t.record(value, now)
	return decision
}

// Elevated reports whether the last reading is still high enough above
// baseline to keep an automatically engaged fan running.
func (t *Tracker) Elevated() bool {
	return t.lastValue-t.baseline >= t.releaseFraction*t.threshold
}

func (t *Tracker) Kind() model.SignalKind { return t.kind }
func (t *Tracker) Baseline() float64      { return t.baseline }
func (t *Tracker) LastValue() float64     { return t.lastValue }
func (t *Tracker) Threshold() float64     { return t.threshold }

func (t *Tracker) Snapshot() *model.SignalSnapshot {
	return &model.SignalSnapshot{
		Baseline:  t.baseline,
		LastValue: t.lastValue,
		Threshold: t.threshold,
	}
}

// sampleRate returns the per-minute rate of change between the previous
// sample and this reading. ok is false when there is no prior sample or the
// readings do not span a positive interval.
func (t *Tracker) sampleRate(value float64, now time.Time) (rate float64, ok bool) {
	if t.rapidRiseRate == 0 || len(t.history) == 0 {
		return 0, false
	}
	prev := t.history[len(t.history)-1]
	gap := now.Sub(prev.Timestamp).Minutes()
	if gap <= 0 {
		return 0, false
	}
	return (value - prev.Value) / gap, true
}

func (t *Tracker) inDriftBand(delta, rate float64, haveRate bool) bool {
	if delta >= t.driftFraction*t.threshold {
		return false
	}
	if t.rapidRiseRate > 0 {
		return haveRate && math.Abs(rate) < t.maxDriftRate
	}
	return true
}

func (t *Tracker) record(value float64, now time.Time) {
	if t.rapidRiseRate > 0 {
		t.history = append(t.history, model.Sample{Timestamp: now, Value: value})
		if len(t.history) > maxHistory {
			t.history = t.history[1:]
		}
	}
	t.prevValue = value
	t.lastValue = value
}

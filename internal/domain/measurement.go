package domain

import (
	"fmt"
	"math"
	"time"
)

// Metric names a measured quantity. The value doubles as the store's measurement name.
type Metric string

const (
	MetricSpO2  Metric = "spo2"
	MetricPulse Metric = "pulse"
)

// Source tags identify where a measurement came from. They are written as the
// "source" tag and used as the watermark filter, so they must never change.
const (
	SourceFitbit = "Fitbit"
	SourceEMAY   = "EMAY"
)

// Measurement is a single timestamped reading. Build it with NewSpO2 or NewPulse.
type Measurement struct {
	Time   time.Time // UTC, truncated to the second
	Metric Metric
	Value  float64
	Source string
}

// NewSpO2 returns a spo2 measurement. The value is a percentage in [0,100].
func NewSpO2(ts time.Time, percent float64, source string) (Measurement, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return Measurement{}, fmt.Errorf("spo2 %v out of range [0,100]", percent)
	}
	return Measurement{Time: normalizeTime(ts), Metric: MetricSpO2, Value: percent, Source: source}, nil
}

// NewPulse returns a pulse rate measurement in beats per minute.
func NewPulse(ts time.Time, bpm int, source string) (Measurement, error) {
	if bpm < 0 {
		return Measurement{}, fmt.Errorf("pulse %d must not be negative", bpm)
	}
	return Measurement{Time: normalizeTime(ts), Metric: MetricPulse, Value: float64(bpm), Source: source}, nil
}

// IntValue returns the value as an integer; meaningful for pulse measurements.
func (m Measurement) IntValue() int64 { return int64(math.Round(m.Value)) }

func normalizeTime(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Second)
}

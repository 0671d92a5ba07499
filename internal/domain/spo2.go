package domain

import "time"

// DateLayout is the calendar date format used by the Fitbit API.
const DateLayout = "2006-01-02"

// Window is a range of calendar dates; both Start and End are inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + ".." + w.End.Format(DateLayout)
}

// DailyRecord is one day of intraday SpO2 readings from the Fitbit API.
type DailyRecord struct {
	Date    string
	Minutes []MinuteReading
}

// MinuteReading holds a local wall-clock timestamp (no zone) and a SpO2 percentage.
type MinuteReading struct {
	Minute string
	Value  float64
}

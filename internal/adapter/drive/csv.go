package drive

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"oximetry-sync/internal/domain"
)

// Column names written by the EMAY oximeter app.
const (
	colDate  = "Date"
	colTime  = "Time"
	colSpO2  = "SpO2(%)"
	colPulse = "PR(bpm)"

	// timestampLayout matches "10/05/2024 11:03:34 PM"; leading zeros are optional.
	timestampLayout = "1/2/2006 3:04:05 PM"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseCSV turns one oximeter export into measurements. Timestamps are local wall
// clock times in loc. Rows that cannot be parsed are logged and skipped.
func parseCSV(data []byte, name string, loc *time.Location, log *slog.Logger) ([]domain.Measurement, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{colDate, colTime, colSpO2, colPulse} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", name, col)
		}
	}
	field := func(row []string, col string) string {
		if i := idx[col]; i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var out []domain.Measurement
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				log.Warn("skipping malformed csv line", slog.String("file", name), slog.String("error", err.Error()))
				continue
			}
			return out, err
		}

		date, clock := field(row, colDate), field(row, colTime)
		spo2Raw, pulseRaw := field(row, colSpO2), field(row, colPulse)
		skip := func(reason error) {
			log.Warn("invalid or missing data in row",
				slog.String("file", name),
				slog.String("date", date),
				slog.String("time", clock),
				slog.String("spo2", spo2Raw),
				slog.String("pulse", pulseRaw),
				slog.String("error", reason.Error()),
			)
		}

		ts, err := time.ParseInLocation(timestampLayout, date+" "+clock, loc)
		if err != nil {
			skip(err)
			continue
		}
		spo2Val, err := strconv.ParseFloat(spo2Raw, 64)
		if err != nil {
			skip(err)
			continue
		}
		pulseVal, err := strconv.Atoi(pulseRaw)
		if err != nil {
			skip(err)
			continue
		}
		spo2, err := domain.NewSpO2(ts, spo2Val, domain.SourceEMAY)
		if err != nil {
			skip(err)
			continue
		}
		pulse, err := domain.NewPulse(ts, pulseVal, domain.SourceEMAY)
		if err != nil {
			skip(err)
			continue
		}
		out = append(out, spo2, pulse)
	}
	return out, nil
}

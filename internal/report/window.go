package report

import (
	"errors"
	"fmt"
	"time"

	"ids-guard/internal/model"
)

// ErrInvalidWindow is returned for a report type other than daily, weekly or monthly.
var ErrInvalidWindow = errors.New("invalid report window")

type Window string

const (
	Daily   Window = "daily"
	Weekly  Window = "weekly"
	Monthly Window = "monthly"
)

var windowSpans = map[Window]time.Duration{
	Daily:   24 * time.Hour,
	Weekly:  7 * 24 * time.Hour,
	Monthly: 30 * 24 * time.Hour,
}

func ParseWindow(s string) (Window, error) {
	w := Window(s)
	if _, ok := windowSpans[w]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	return w, nil
}

// Span returns the length of the window.
func (w Window) Span() (time.Duration, error) {
	span, ok := windowSpans[w]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, string(w))
	}
	return span, nil
}

// FilterByWindow keeps the alerts at or after now minus the window span.
// Alerts whose timestamp cannot be parsed are dropped.
func FilterByWindow(alerts []model.AlertRecord, w Window, now time.Time) ([]model.AlertRecord, error) {
	span, err := w.Span()
	if err != nil {
		return nil, err
	}
	return since(alerts, now.Add(-span)), nil
}

func since(alerts []model.AlertRecord, cutoff time.Time) []model.AlertRecord {
	out := make([]model.AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		ts, err := model.ParseTimestamp(a.Timestamp)
		if err != nil {
			continue
		}
		if !ts.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

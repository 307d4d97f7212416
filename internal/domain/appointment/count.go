package appointment

import (
	"sort"
	"strings"
	"time"

	"github.com/healthsync/healthsync/internal/platform/apperr"
)

// CountParams is a validated count query. Start and End are calendar dates
// (midnight UTC) and the window is inclusive on both ends.
type CountParams struct {
	Start time.Time
	End   time.Time
	// Completed filters on the completion flag when non-nil.
	Completed *bool
	// Doctor is a case-insensitive substring of the doctor's username.
	// Match folds with Unicode simple lowercasing; the Postgres query uses
	// ILIKE, which folds per the database collation. Both agree on ASCII
	// and on Latin letters under a UTF-8 collation.
	Doctor string
}

// DayCount is one row of the count result.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"appointment_count"`
}

// ParseCountQuery validates raw query values. Checks run in a fixed order
// and the first failure is returned.
func ParseCountQuery(start, end, status, doctor string) (CountParams, error) {
	if start == "" || end == "" {
		return CountParams{}, apperr.BadRequest("dates_required", "both start_date and end_date are required")
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return CountParams{}, apperr.BadRequest("invalid_date_format", "invalid date format, use YYYY-MM-DD")
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return CountParams{}, apperr.BadRequest("invalid_date_format", "invalid date format, use YYYY-MM-DD")
	}
	if s.After(e) {
		return CountParams{}, apperr.BadRequest("start_after_end", "start_date must not be after end_date")
	}

	params := CountParams{Start: s, End: e, Doctor: strings.TrimSpace(doctor)}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
	case "completed":
		params.Completed = boolPtr(true)
	case "pending":
		params.Completed = boolPtr(false)
	default:
		return CountParams{}, apperr.BadRequest("invalid_status", "status must be completed or pending")
	}
	return params, nil
}

func boolPtr(b bool) *bool { return &b }

// calendarDate truncates t to its date in loc, expressed as midnight UTC so
// it compares directly with CountParams bounds.
func calendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Match reports whether a survives every filter in p.
func (p CountParams) Match(a *Appointment, loc *time.Location) bool {
	day := calendarDate(a.ScheduledAt, loc)
	if day.Before(p.Start) || day.After(p.End) {
		return false
	}
	if p.Completed != nil && a.IsCompleted != *p.Completed {
		return false
	}
	if p.Doctor != "" && !strings.Contains(strings.ToLower(a.DoctorUsername), strings.ToLower(p.Doctor)) {
		return false
	}
	return true
}

// Tally groups the appointments matching p by calendar date in loc and
// returns the counts in ascending date order. The result is never nil.
func Tally(apps []*Appointment, p CountParams, loc *time.Location) []DayCount {
	counts := make(map[time.Time]int)
	for _, a := range apps {
		if p.Match(a, loc) {
			counts[calendarDate(a.ScheduledAt, loc)]++
		}
	}

	days := make([]time.Time, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]DayCount, 0, len(days))
	for _, d := range days {
		out = append(out, DayCount{Date: d.Format(DateLayout), Count: counts[d]})
	}
	return out
}

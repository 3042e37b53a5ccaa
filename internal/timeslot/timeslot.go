// Package timeslot classifies lab appointment slots and bookings.
// Everything here is pure: callers pass the clock in, parse failures
// degrade to permissive results instead of errors.
package timeslot

import (
	"strconv"
	"strings"
	"time"

	"clinicfront/internal/model"
)

// Slot is a half-open interval in minutes since local midnight.
type Slot struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Boundary int

const (
	StartBoundary Boundary = iota
	EndBoundary
)

// ParseSlot parses a label like "8:00 AM - 9:00 AM". The second return
// is false when the label does not match that shape.
func ParseSlot(label string) (Slot, bool) {
	parts := strings.SplitN(label, "-", 2)
	if len(parts) != 2 {
		return Slot{}, false
	}
	start, ok := parseClock(parts[0])
	if !ok {
		return Slot{}, false
	}
	end, ok := parseClock(parts[1])
	if !ok {
		return Slot{}, false
	}
	return Slot{Start: start, End: end}, true
}

// BoundaryMinutes extracts one boundary of the label as minutes since
// midnight. A label with one parseable side still yields that side.
func BoundaryMinutes(label string, which Boundary) (int, bool) {
	parts := strings.SplitN(label, "-", 2)
	if len(parts) != 2 {
		return 0, false
	}
	if which == StartBoundary {
		return parseClock(parts[0])
	}
	return parseClock(parts[1])
}

// parseClock converts "8:00 AM" (12-hour, case-insensitive meridiem)
// to minutes since midnight.
func parseClock(s string) (int, bool) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0, false
	}
	meridiem := strings.ToUpper(fields[1])
	if meridiem != "AM" && meridiem != "PM" {
		return 0, false
	}
	hm := strings.SplitN(fields[0], ":", 2)
	if len(hm) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(hm[0])
	if err != nil || hour < 1 || hour > 12 {
		return 0, false
	}
	minute, err := strconv.Atoi(hm[1])
	if err != nil || len(hm[1]) != 2 || minute < 0 || minute > 59 {
		return 0, false
	}
	if hour == 12 {
		hour = 0
	}
	if meridiem == "PM" {
		hour += 12
	}
	return hour*60 + minute, true
}

// Eligible reports whether a slot can still be booked for the target
// date. Dates other than today's (in now's location) are always
// eligible; today requires the slot start to lie strictly after now.
// An unparseable start boundary never blocks booking.
func Eligible(label string, date, now time.Time) bool {
	if !sameDay(date, now) {
		return true
	}
	start, ok := BoundaryMinutes(label, StartBoundary)
	if !ok {
		return true
	}
	return start > now.Hour()*60+now.Minute()
}

// BookingOverdue reports whether a booking's slot window has fully
// elapsed while the booking is still unresolved. Missing or
// unparseable data never counts as overdue.
func BookingOverdue(b model.LabBooking, now time.Time) bool {
	if b.Status != model.StatusPending && b.Status != model.StatusConfirmed {
		return false
	}
	if b.AppointmentDate == "" || b.TimeSlot == "" {
		return false
	}
	date, ok := parseDate(b.AppointmentDate, now.Location())
	if !ok {
		return false
	}
	end, ok := BoundaryMinutes(b.TimeSlot, EndBoundary)
	if !ok {
		return false
	}
	deadline := time.Date(date.Year(), date.Month(), date.Day(), end/60, end%60, 0, 0, now.Location())
	return now.After(deadline)
}

// EffectiveStatus is the stored status, reclassified to
// overdue_patient_not_present when the slot window has elapsed.
func EffectiveStatus(b model.LabBooking, now time.Time) model.BookingStatus {
	if BookingOverdue(b, now) {
		return model.StatusOverduePatientNotPresent
	}
	return b.Status
}

// parseDate accepts "2006-01-02", optionally with a trailing ISO time
// part which some upstream responses include.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.In(b.Location()).Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

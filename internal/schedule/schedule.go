// Package schedule implements the weekly schedule engine: creation and
// update with overlap rejection, soft deletion, and atomic merge/split
// of a teacher's time blocks.
package schedule

import (
	"fmt"
	"time"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
)

// Day is a day of week, Monday (1) through Saturday (6). Sunday is not
// a teaching day.
type Day int

const (
	Monday Day = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var dayNames = map[Day]string{
	Monday:    "monday",
	Tuesday:   "tuesday",
	Wednesday: "wednesday",
	Thursday:  "thursday",
	Friday:    "friday",
	Saturday:  "saturday",
}

func (d Day) String() string {
	if name, ok := dayNames[d]; ok {
		return name
	}
	return fmt.Sprintf("day(%d)", int(d))
}

// Valid reports whether d is a teaching day.
func (d Day) Valid() bool { return d >= Monday && d <= Saturday }

// Schedule is a weekly recurring time block for a class. Times are
// minutes since midnight; the block is the half-open interval
// [StartMin, EndMin). Inactive schedules are terminal and kept for
// historical attendance.
type Schedule struct {
	ID           string    `json:"id"`
	ClassID      string    `json:"classId"`
	TeacherID    string    `json:"teacherId"`
	Day          Day       `json:"dayOfWeek"`
	StartMin     int       `json:"-"`
	EndMin       int       `json:"-"`
	RoomNumber   string    `json:"roomNumber"`
	SessionType  string    `json:"sessionType"`
	Semester     string    `json:"semester"`
	AcademicYear string    `json:"academicYear"`
	Location     geo.Point `json:"location"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StartTime renders StartMin as "HH:mm".
func (s Schedule) StartTime() string { return FormatMinutes(s.StartMin) }

// EndTime renders EndMin as "HH:mm".
func (s Schedule) EndTime() string { return FormatMinutes(s.EndMin) }

// Overlaps reports whether the half-open intervals of two blocks
// intersect. Symmetric; touching endpoints do not overlap.
func (s Schedule) Overlaps(other Schedule) bool {
	return overlaps(s.StartMin, s.EndMin, other.StartMin, other.EndMin)
}

func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// ParseMinutes converts an "HH:mm" wall-clock string to minutes since
// midnight.
func ParseMinutes(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, apperr.Validation("malformed time %q, want HH:mm", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, apperr.Validation("malformed time %q, want HH:mm", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, apperr.Validation("time %q out of range", s)
	}
	return h*60 + m, nil
}

// FormatMinutes renders minutes since midnight as "HH:mm".
func FormatMinutes(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

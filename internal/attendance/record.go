// Package attendance validates and persists attendance submissions:
// live QR scans, offline-queued sync batches, and manual teacher
// entries.
package attendance

import (
	"time"

	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
)

// Status of a student's attendance for one schedule occurrence.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// ValidStatus reports whether s is one of the recognized statuses.
func ValidStatus(s Status) bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// Record is one student's attendance for one session, or one manual
// entry. Manual entries have no session id, coordinates or liveness
// data. At most one non-manual record exists per (SessionID,
// StudentID); offline sync reconciles by SyncVersion, never by
// duplicating.
type Record struct {
	ID             string     `json:"id"`
	StudentID      string     `json:"studentId"`
	ClassID        string     `json:"classId"`
	ScheduleID     string     `json:"scheduleId,omitempty"`
	SessionID      string     `json:"sessionId,omitempty"`
	Coordinates    *geo.Point `json:"studentCoordinates,omitempty"`
	LivenessPassed *bool      `json:"livenessPassed,omitempty"`
	FaceImageURL   string     `json:"faceImageUrl,omitempty"`
	Status         Status     `json:"status"`
	SyncVersion    int64      `json:"syncVersion"`
	ManualEntry    bool       `json:"manualEntry"`
	AttendedAt     time.Time  `json:"attendedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

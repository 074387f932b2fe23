// Package session manages QR attendance sessions: short-lived,
// teacher-owned authorization artifacts presented as a rotating signed
// code.
package session

import (
	"time"

	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
)

// Session is the QR session document. ExpiresAt is fixed at creation;
// only the rotating token changes on refresh. Terminated sessions
// collapse ExpiresAt to the termination instant.
type Session struct {
	ID            string    `json:"sessionId"`
	ClassID       string    `json:"classId"`
	ScheduleID    string    `json:"scheduleId,omitempty"`
	TeacherID     string    `json:"teacherId"`
	RotatingToken string    `json:"rotatingToken"`
	Location      geo.Point `json:"location"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	IsActive      bool      `json:"isActive"`
}

// Usable reports whether the session may authorize submissions at the
// given instant. The store's expiry sweep is asynchronous, so this is
// re-checked on every load regardless of physical presence.
func (s Session) Usable(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

package session

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/metrics"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
	"github.com/devparmar15199/qr-student-app-backend/internal/schedule"
)

// ScheduleSource is the slice of the schedule engine this package
// needs.
type ScheduleSource interface {
	Get(ctx context.Context, id string) (schedule.Schedule, error)
}

// Config tunes session issuance.
type Config struct {
	SigningKey      string
	Issuer          string
	SessionLifetime time.Duration
	RotationWindow  time.Duration
}

// Service issues, rotates, terminates and resolves QR sessions.
type Service struct {
	repo      Repository
	classes   roster.Directory
	schedules ScheduleSource
	cfg       Config
	now       func() time.Time
}

// NewService wires the manager.
func NewService(repo Repository, classes roster.Directory, schedules ScheduleSource, cfg Config) *Service {
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = 5 * time.Minute
	}
	if cfg.RotationWindow <= 0 {
		cfg.RotationWindow = 15 * time.Second
	}
	return &Service{repo: repo, classes: classes, schedules: schedules, cfg: cfg, now: time.Now}
}

// newSessionID renders a random 128-bit id as 32 lowercase hex chars.
func newSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Generate creates a fresh session for a class the teacher owns.
// ExpiresAt is fixed here and never moves afterwards.
func (s *Service) Generate(ctx context.Context, actor roster.Actor, classID, scheduleID string, coords geo.Point) (Session, error) {
	if err := coords.Validate(); err != nil {
		return Session{}, err
	}
	cl, err := s.classes.ClassByID(ctx, classID)
	if err != nil {
		return Session{}, err
	}
	if !actor.IsAdmin() && cl.TeacherID != actor.ID {
		return Session{}, apperr.Authorization("class %s belongs to another teacher", classID)
	}
	if scheduleID != "" {
		sc, err := s.schedules.Get(ctx, scheduleID)
		if err != nil {
			return Session{}, err
		}
		if sc.ClassID != classID {
			return Session{}, apperr.Validation("schedule %s does not belong to class %s", scheduleID, classID)
		}
		if !actor.IsAdmin() && sc.TeacherID != actor.ID {
			return Session{}, apperr.Authorization("schedule %s belongs to another teacher", scheduleID)
		}
	}

	now := s.now()
	sess := Session{
		ID:         newSessionID(),
		ClassID:    classID,
		ScheduleID: scheduleID,
		TeacherID:  cl.TeacherID,
		Location:   coords,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.SessionLifetime),
		IsActive:   true,
	}
	token, err := signRotatingToken(s.cfg.SigningKey, s.cfg.Issuer, sess.ID, classID, now, now.Add(s.cfg.RotationWindow))
	if err != nil {
		return Session{}, err
	}
	sess.RotatingToken = token

	if err := s.repo.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	metrics.SessionsIssued.Inc()
	return sess, nil
}

// Refresh rotates the displayed token without touching ExpiresAt.
// Inactive, expired, absent and foreign sessions all report not found.
func (s *Service) Refresh(ctx context.Context, actor roster.Actor, sessionID string) (Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !actor.IsAdmin() && sess.TeacherID != actor.ID {
		return Session{}, apperr.NotFound("session %s not found", sessionID)
	}
	now := s.now()
	if !sess.Usable(now) {
		return Session{}, apperr.NotFound("session %s is no longer active", sessionID)
	}
	token, err := signRotatingToken(s.cfg.SigningKey, s.cfg.Issuer, sess.ID, sess.ClassID, now, now.Add(s.cfg.RotationWindow))
	if err != nil {
		return Session{}, err
	}
	sess.RotatingToken = token
	if err := s.repo.Save(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Terminate makes the session immediately unusable even though the
// store's reaper may lag: isActive drops and ExpiresAt collapses to
// now.
func (s *Service) Terminate(ctx context.Context, actor roster.Actor, sessionID string) error {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && sess.TeacherID != actor.ID {
		return apperr.NotFound("session %s not found", sessionID)
	}
	if !sess.IsActive {
		return nil
	}
	sess.IsActive = false
	sess.ExpiresAt = s.now()
	return s.repo.Save(ctx, sess)
}

// TerminateAll terminates every live session of the teacher and
// returns how many it touched.
func (s *Service) TerminateAll(ctx context.Context, actor roster.Actor, teacherID string) (int, error) {
	if !actor.IsAdmin() && teacherID != actor.ID {
		return 0, apperr.Authorization("cannot terminate another teacher's sessions")
	}
	ids, err := s.repo.ActiveIDsByTeacher(ctx, teacherID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		sess, err := s.repo.Get(ctx, id)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			return count, err
		}
		if !sess.IsActive {
			continue
		}
		sess.IsActive = false
		sess.ExpiresAt = s.now()
		if err := s.repo.Save(ctx, sess); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Resolve extracts the canonical session id from a scanned token.
func (s *Service) Resolve(raw string) (string, error) {
	return ResolveToken(raw, s.cfg.SigningKey)
}

// Validate resolves a scanned token and returns the session only while
// it is usable.
func (s *Service) Validate(ctx context.Context, raw string) (Session, error) {
	id, err := s.Resolve(raw)
	if err != nil {
		return Session{}, err
	}
	return s.GetUsable(ctx, id)
}

// GetUsable loads a session by id and returns it only while usable. A
// swept or unknown id reports the same expiry error as a terminated
// one; clients cannot distinguish the two on purpose.
func (s *Service) GetUsable(ctx context.Context, id string) (Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return Session{}, apperr.Expired("session %s is expired or invalid", id)
		}
		return Session{}, err
	}
	if !sess.Usable(s.now()) {
		return Session{}, apperr.Expired("session %s is expired or invalid", id)
	}
	return sess, nil
}

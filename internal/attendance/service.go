package attendance

import (
	"context"
	"time"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/metrics"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
	"github.com/devparmar15199/qr-student-app-backend/internal/schedule"
	"github.com/devparmar15199/qr-student-app-backend/internal/session"
)

// SessionSource is the slice of the session manager the reconciler
// needs: a session that is loadable and currently usable.
type SessionSource interface {
	GetUsable(ctx context.Context, id string) (session.Session, error)
}

// ScheduleSource resolves schedule ids for lateness and consistency
// checks.
type ScheduleSource interface {
	Get(ctx context.Context, id string) (schedule.Schedule, error)
}

// Config tunes the reconciler.
type Config struct {
	GeofenceRadiusM float64
	LateThreshold   time.Duration
}

// Service validates and persists attendance submissions.
type Service struct {
	repo      Repository
	sessions  SessionSource
	schedules ScheduleSource
	directory roster.Directory
	cfg       Config
	now       func() time.Time
}

// NewService wires the reconciler.
func NewService(repo Repository, sessions SessionSource, schedules ScheduleSource, directory roster.Directory, cfg Config) *Service {
	if cfg.GeofenceRadiusM <= 0 {
		cfg.GeofenceRadiusM = 100
	}
	if cfg.LateThreshold <= 0 {
		cfg.LateThreshold = 15 * time.Minute
	}
	return &Service{
		repo:      repo,
		sessions:  sessions,
		schedules: schedules,
		directory: directory,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Submission is one live or offline-queued attendance submission.
type Submission struct {
	SessionID      string
	ClassID        string
	ScheduleID     string
	Coordinates    geo.Point
	LivenessPassed *bool
	FaceImageURL   string
	SyncVersion    int64
	// AttendedAt is honored for offline sync items only. Live scans
	// are stamped with the server clock in Submit.
	AttendedAt time.Time
}

// scheduleStartOn anchors a schedule's wall-clock start on the calendar
// day of at.
func scheduleStartOn(sc schedule.Schedule, at time.Time) time.Time {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	return day.Add(time.Duration(sc.StartMin) * time.Minute)
}

// vet runs every check shared by Submit and Sync up to, but not
// including, duplicate handling, and returns the record ready to
// persist.
func (s *Service) vet(ctx context.Context, studentID string, in Submission) (Record, error) {
	sess, err := s.sessions.GetUsable(ctx, in.SessionID)
	if err != nil {
		return Record{}, err
	}
	if in.ClassID != sess.ClassID {
		return Record{}, apperr.Validation("session %s was not issued for class %s", in.SessionID, in.ClassID)
	}
	enrolled, err := s.directory.IsEnrolled(ctx, studentID, in.ClassID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		return Record{}, apperr.Authorization("student %s is not enrolled in class %s", studentID, in.ClassID)
	}

	var sc *schedule.Schedule
	if in.ScheduleID != "" {
		loaded, err := s.schedules.Get(ctx, in.ScheduleID)
		if err != nil {
			return Record{}, err
		}
		if loaded.ClassID != in.ClassID {
			return Record{}, apperr.Validation("schedule %s does not belong to class %s", in.ScheduleID, in.ClassID)
		}
		sc = &loaded
	}

	dist, err := geo.Distance(in.Coordinates, sess.Location)
	if err != nil {
		return Record{}, err
	}
	if dist > s.cfg.GeofenceRadiusM {
		metrics.GeofenceRejections.Inc()
		return Record{}, apperr.Proximity("%.0fm from session location exceeds the %.0fm geofence", dist, s.cfg.GeofenceRadiusM)
	}

	at := in.AttendedAt
	if at.IsZero() {
		at = s.now()
	}
	status := StatusPresent
	if sc != nil && !at.Before(scheduleStartOn(*sc, at).Add(s.cfg.LateThreshold)) {
		status = StatusLate
	}

	coords := in.Coordinates
	return Record{
		StudentID:      studentID,
		ClassID:        in.ClassID,
		ScheduleID:     in.ScheduleID,
		SessionID:      in.SessionID,
		Coordinates:    &coords,
		LivenessPassed: in.LivenessPassed,
		FaceImageURL:   in.FaceImageURL,
		Status:         status,
		SyncVersion:    in.SyncVersion,
		AttendedAt:     at,
	}, nil
}

// Submit records a live scan. The submission instant is the server
// clock; a timestamp sent by the client is ignored so lateness cannot
// be evaded by backdating. A record that already exists for the
// (session, student) pair is a conflict; the storage-level unique
// constraint closes the race window between concurrent scans.
func (s *Service) Submit(ctx context.Context, studentID string, in Submission) (Record, error) {
	in.AttendedAt = s.now()
	rec, err := s.vet(ctx, studentID, in)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return Record{}, err
	}
	created, err := s.repo.Insert(ctx, rec)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return Record{}, err
	}
	metrics.Submissions.WithLabelValues(string(created.Status)).Inc()
	return created, nil
}

// Sync outcomes.
const (
	SyncSuccess = "success"
	SyncFailed  = "failed"
	SyncSkipped = "skipped"
)

// SyncResult is the per-item outcome of an offline batch.
type SyncResult struct {
	SessionID string  `json:"sessionId"`
	Outcome   string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	Record    *Record `json:"record,omitempty"`
}

// Sync reconciles offline-queued submissions. Items are processed
// independently in caller order; one failure never aborts the batch.
// An existing record for the pair is overwritten when the incoming
// version is strictly higher and skipped otherwise, so replaying a
// queue is idempotent regardless of arrival order.
func (s *Service) Sync(ctx context.Context, studentID string, items []Submission) []SyncResult {
	results := make([]SyncResult, 0, len(items))
	for _, item := range items {
		res := s.syncOne(ctx, studentID, item)
		metrics.SyncItems.WithLabelValues(res.Outcome).Inc()
		results = append(results, res)
	}
	return results
}

func (s *Service) syncOne(ctx context.Context, studentID string, item Submission) SyncResult {
	existing, err := s.repo.GetBySession(ctx, item.SessionID, studentID)
	switch {
	case err == nil:
		if existing.SyncVersion >= item.SyncVersion {
			return SyncResult{SessionID: item.SessionID, Outcome: SyncSkipped}
		}
	case apperr.Is(err, apperr.KindNotFound):
		// First sight of this pair.
	default:
		return SyncResult{SessionID: item.SessionID, Outcome: SyncFailed, Error: err.Error()}
	}

	rec, err := s.vet(ctx, studentID, item)
	if err != nil {
		return SyncResult{SessionID: item.SessionID, Outcome: SyncFailed, Error: err.Error()}
	}

	if existing.ID != "" {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if err := s.repo.Overwrite(ctx, rec); err != nil {
			return SyncResult{SessionID: item.SessionID, Outcome: SyncFailed, Error: err.Error()}
		}
		return SyncResult{SessionID: item.SessionID, Outcome: SyncSuccess, Record: &rec}
	}

	created, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return SyncResult{SessionID: item.SessionID, Outcome: SyncFailed, Error: err.Error()}
	}
	return SyncResult{SessionID: item.SessionID, Outcome: SyncSuccess, Record: &created}
}

// ManualInput describes a teacher-entered record.
type ManualInput struct {
	StudentID  string
	ClassID    string
	ScheduleID string
	Status     Status
	AttendedAt time.Time
}

// ManualEntry records attendance directly, bypassing session, geofence
// and liveness checks. The entry must land inside the schedule's time
// window on its day, at most once per student/schedule/day.
func (s *Service) ManualEntry(ctx context.Context, actor roster.Actor, in ManualInput) (Record, error) {
	if !ValidStatus(in.Status) {
		return Record{}, apperr.Validation("status must be present, late or absent")
	}
	if in.ScheduleID == "" {
		return Record{}, apperr.Validation("scheduleId is required for manual entries")
	}

	cl, err := s.directory.ClassByID(ctx, in.ClassID)
	if err != nil {
		return Record{}, err
	}
	if !actor.IsAdmin() && cl.TeacherID != actor.ID {
		return Record{}, apperr.Authorization("class %s belongs to another teacher", in.ClassID)
	}

	sc, err := s.schedules.Get(ctx, in.ScheduleID)
	if err != nil {
		return Record{}, err
	}
	if sc.ClassID != in.ClassID {
		return Record{}, apperr.Validation("schedule %s does not belong to class %s", in.ScheduleID, in.ClassID)
	}

	enrolled, err := s.directory.IsEnrolled(ctx, in.StudentID, in.ClassID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		return Record{}, apperr.Authorization("student %s is not enrolled in class %s", in.StudentID, in.ClassID)
	}

	at := in.AttendedAt
	if at.IsZero() {
		at = s.now()
	}
	if schedule.Day(at.Weekday()) != sc.Day {
		return Record{}, apperr.Validation("%s is not a %s", at.Format("2006-01-02"), sc.Day)
	}
	minutes := at.Hour()*60 + at.Minute()
	if minutes < sc.StartMin || minutes > sc.EndMin {
		return Record{}, apperr.Validation("attendedAt %s outside schedule window %s-%s",
			at.Format("15:04"), sc.StartTime(), sc.EndTime())
	}

	exists, err := s.repo.ExistsForScheduleDay(ctx, in.StudentID, in.ScheduleID, at)
	if err != nil {
		return Record{}, err
	}
	if exists {
		return Record{}, apperr.Conflict("attendance already recorded for %s on %s",
			in.StudentID, at.Format("2006-01-02"))
	}

	rec := Record{
		StudentID:   in.StudentID,
		ClassID:     in.ClassID,
		ScheduleID:  in.ScheduleID,
		Status:      in.Status,
		ManualEntry: true,
		AttendedAt:  at,
	}
	return s.repo.Insert(ctx, rec)
}

// ListByClass exposes a class's records for teacher review.
func (s *Service) ListByClass(ctx context.Context, actor roster.Actor, classID, sessionID string, limit int) ([]Record, error) {
	cl, err := s.directory.ClassByID(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && cl.TeacherID != actor.ID {
		return nil, apperr.Authorization("class %s belongs to another teacher", classID)
	}
	return s.repo.ListByClass(ctx, classID, sessionID, limit)
}

// RecordLiveness stores the asynchronous face-verification outcome for
// a record. Called by the worker.
func (s *Service) RecordLiveness(ctx context.Context, recordID string, passed bool) error {
	return s.repo.SetLiveness(ctx, recordID, passed)
}

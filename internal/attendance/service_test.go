package attendance

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
	"github.com/devparmar15199/qr-student-app-backend/internal/schedule"
	"github.com/devparmar15199/qr-student-app-backend/internal/session"
)

// Campus anchor and a point ~50m / ~150m east of it.
var (
	anchor  = geo.Point{Lat: 12.9716, Lon: 77.5946}
	near    = geo.Point{Lat: 12.9716, Lon: 77.59506}  // ~50m
	faraway = geo.Point{Lat: 12.9716, Lon: 77.59598}  // ~150m
)

type memRepo struct {
	mu    sync.Mutex
	seq   int
	items map[string]Record
}

func newMemRepo() *memRepo { return &memRepo{items: make(map[string]Record)} }

func (m *memRepo) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.SessionID != "" {
		for _, r := range m.items {
			if r.SessionID == rec.SessionID && r.StudentID == rec.StudentID {
				return Record{}, apperr.Conflict("attendance already recorded for this session")
			}
		}
	}
	if rec.ID == "" {
		m.seq++
		rec.ID = "rec-" + strconv.Itoa(m.seq)
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	m.items[rec.ID] = rec
	return rec, nil
}

func (m *memRepo) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return Record{}, apperr.NotFound("attendance record %s not found", id)
	}
	return rec, nil
}

func (m *memRepo) GetBySession(_ context.Context, sessionID, studentID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.SessionID == sessionID && r.StudentID == studentID {
			return r, nil
		}
	}
	return Record{}, apperr.NotFound("no record for session %s student %s", sessionID, studentID)
}

func (m *memRepo) Overwrite(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[rec.ID]; !ok {
		return apperr.NotFound("attendance record %s not found", rec.ID)
	}
	m.items[rec.ID] = rec
	return nil
}

func (m *memRepo) ExistsForScheduleDay(_ context.Context, studentID, scheduleID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.StudentID == studentID && r.ScheduleID == scheduleID &&
			r.AttendedAt.Year() == day.Year() && r.AttendedAt.YearDay() == day.YearDay() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListByClass(_ context.Context, classID, sessionID string, _ int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.items {
		if r.ClassID == classID && (sessionID == "" || r.SessionID == sessionID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) SetLiveness(_ context.Context, id string, passed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return apperr.NotFound("attendance record %s not found", id)
	}
	rec.LivenessPassed = &passed
	m.items[id] = rec
	return nil
}

type stubSessions struct {
	items map[string]session.Session
	now   func() time.Time
}

func (s stubSessions) GetUsable(_ context.Context, id string) (session.Session, error) {
	sess, ok := s.items[id]
	if !ok || !sess.Usable(s.now()) {
		return session.Session{}, apperr.Expired("session %s is expired or invalid", id)
	}
	return sess, nil
}

type stubSchedules struct{ items map[string]schedule.Schedule }

func (s stubSchedules) Get(_ context.Context, id string) (schedule.Schedule, error) {
	sc, ok := s.items[id]
	if !ok {
		return schedule.Schedule{}, apperr.NotFound("schedule %s not found", id)
	}
	return sc, nil
}

type stubDirectory struct {
	classOwner map[string]string
	enrolled   map[string]bool // key studentID+"/"+classID
}

func (d stubDirectory) Role(context.Context, string) (string, error) { return "student", nil }

func (d stubDirectory) IsEnrolled(_ context.Context, studentID, classID string) (bool, error) {
	return d.enrolled[studentID+"/"+classID], nil
}

func (d stubDirectory) ClassByID(_ context.Context, classID string) (roster.Class, error) {
	owner, ok := d.classOwner[classID]
	if !ok {
		return roster.Class{}, apperr.NotFound("class %s not found", classID)
	}
	return roster.Class{ID: classID, TeacherID: owner}, nil
}

const sessionID = "0123456789abcdef0123456789abcdef"

// monday9 is a Monday at 09:00 local time.
var monday9 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.Local)

func newTestService() (*Service, *memRepo, *stubSessions) {
	repo := newMemRepo()
	sessions := &stubSessions{
		items: map[string]session.Session{
			sessionID: {
				ID:        sessionID,
				ClassID:   "c1",
				TeacherID: "t1",
				Location:  anchor,
				IssuedAt:  monday9,
				ExpiresAt: monday9.Add(5 * time.Minute),
				IsActive:  true,
			},
		},
		now: func() time.Time { return monday9.Add(time.Minute) },
	}
	schedules := stubSchedules{items: map[string]schedule.Schedule{
		"sc1": {
			ID: "sc1", ClassID: "c1", TeacherID: "t1",
			Day: schedule.Monday, StartMin: 9 * 60, EndMin: 10 * 60,
			RoomNumber: "101", IsActive: true,
		},
		"scOther": {ID: "scOther", ClassID: "c9", TeacherID: "t9", Day: schedule.Monday, StartMin: 9 * 60, EndMin: 10 * 60, IsActive: true},
	}}
	directory := stubDirectory{
		classOwner: map[string]string{"c1": "t1"},
		enrolled:   map[string]bool{"s1/c1": true},
	}
	svc := NewService(repo, sessions, schedules, directory, Config{
		GeofenceRadiusM: 100,
		LateThreshold:   15 * time.Minute,
	})
	svc.now = sessions.now
	return svc, repo, sessions
}

func submission() Submission {
	return Submission{
		SessionID:   sessionID,
		ClassID:     "c1",
		ScheduleID:  "sc1",
		Coordinates: near,
	}
}

func TestSubmitWithinGeofence(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rec, err := svc.Submit(ctx, "s1", submission())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.Status != StatusPresent {
		t.Errorf("status = %s, want present", rec.Status)
	}
	if rec.ManualEntry {
		t.Error("scan marked as manual entry")
	}
	if rec.SessionID != sessionID {
		t.Errorf("record lost session back-reference")
	}
}

func TestSubmitOutsideGeofence(t *testing.T) {
	svc, _, _ := newTestService()
	in := submission()
	in.Coordinates = faraway

	_, err := svc.Submit(context.Background(), "s1", in)
	if !apperr.Is(err, apperr.KindProximity) {
		t.Errorf("Submit() error = %v, want proximity", err)
	}
}

func TestSubmitInvalidCoordinatesIsValidationNotProximity(t *testing.T) {
	svc, _, _ := newTestService()
	in := submission()
	in.Coordinates = geo.Point{Lat: 95, Lon: 0}

	_, err := svc.Submit(context.Background(), "s1", in)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Submit() error = %v, want validation", err)
	}
}

func TestSubmitLateness(t *testing.T) {
	tests := []struct {
		name       string
		afterStart time.Duration
		want       Status
	}{
		{name: "9 minutes in", afterStart: 9 * time.Minute, want: StatusPresent},
		{name: "just under threshold", afterStart: 15*time.Minute - time.Second, want: StatusPresent},
		{name: "exactly at threshold", afterStart: 15 * time.Minute, want: StatusLate},
		{name: "16 minutes in", afterStart: 16 * time.Minute, want: StatusLate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, sessions := newTestService()
			at := monday9.Add(tt.afterStart)
			sessions.now = func() time.Time { return at }
			svc.now = sessions.now
			// Keep the session alive for the whole scenario.
			sess := sessions.items[sessionID]
			sess.ExpiresAt = monday9.Add(time.Hour)
			sessions.items[sessionID] = sess

			rec, err := svc.Submit(context.Background(), "s1", submission())
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if rec.Status != tt.want {
				t.Errorf("status = %s, want %s", rec.Status, tt.want)
			}
		})
	}
}

func TestSubmitStampsServerClock(t *testing.T) {
	svc, _, sessions := newTestService()
	now := monday9.Add(30 * time.Minute)
	sessions.now = func() time.Time { return now }
	svc.now = sessions.now
	sess := sessions.items[sessionID]
	sess.ExpiresAt = monday9.Add(time.Hour)
	sessions.items[sessionID] = sess

	// A backdated timestamp must not defeat the lateness check or
	// become the recorded time.
	in := submission()
	in.AttendedAt = monday9

	rec, err := svc.Submit(context.Background(), "s1", in)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.Status != StatusLate {
		t.Errorf("status = %s with backdated attendedAt, want late", rec.Status)
	}
	if !rec.AttendedAt.Equal(now) {
		t.Errorf("attendedAt = %s (client-controlled), want server now %s", rec.AttendedAt, now)
	}
}

func TestSubmitNoScheduleNeverLate(t *testing.T) {
	svc, _, sessions := newTestService()
	at := monday9.Add(30 * time.Minute)
	sessions.now = func() time.Time { return at }
	svc.now = sessions.now
	sess := sessions.items[sessionID]
	sess.ExpiresAt = monday9.Add(time.Hour)
	sessions.items[sessionID] = sess

	in := submission()
	in.ScheduleID = ""
	rec, err := svc.Submit(context.Background(), "s1", in)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.Status != StatusPresent {
		t.Errorf("status = %s, want present without schedule", rec.Status)
	}
}

func TestSubmitRejections(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	in := submission()
	in.SessionID = "ffffffffffffffffffffffffffffffff"
	if _, err := svc.Submit(ctx, "s1", in); !apperr.Is(err, apperr.KindExpired) {
		t.Errorf("unknown session: error = %v, want expired", err)
	}

	in = submission()
	in.ClassID = "c2"
	if _, err := svc.Submit(ctx, "s1", in); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("wrong class: error = %v, want validation", err)
	}

	if _, err := svc.Submit(ctx, "s2", submission()); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("not enrolled: error = %v, want authorization", err)
	}

	in = submission()
	in.ScheduleID = "scOther"
	if _, err := svc.Submit(ctx, "s1", in); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("foreign schedule: error = %v, want validation", err)
	}
}

func TestSubmitDuplicateIsConflict(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "s1", submission()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Submit(ctx, "s1", submission()); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("second scan: error = %v, want conflict", err)
	}
}

func TestSyncVersioning(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	first := submission()
	first.SyncVersion = 1

	results := svc.Sync(ctx, "s1", []Submission{first})
	if results[0].Outcome != SyncSuccess {
		t.Fatalf("first sync = %+v, want success", results[0])
	}
	recID := results[0].Record.ID

	// Same version again: skipped, not an error.
	results = svc.Sync(ctx, "s1", []Submission{first})
	if results[0].Outcome != SyncSkipped {
		t.Errorf("replay = %+v, want skipped", results[0])
	}

	// Lower version: skipped.
	stale := first
	stale.SyncVersion = 0
	results = svc.Sync(ctx, "s1", []Submission{stale})
	if results[0].Outcome != SyncSkipped {
		t.Errorf("stale version = %+v, want skipped", results[0])
	}

	// Higher version overwrites in place, keeping record identity.
	newer := first
	newer.SyncVersion = 3
	newer.Coordinates = anchor
	results = svc.Sync(ctx, "s1", []Submission{newer})
	if results[0].Outcome != SyncSuccess {
		t.Fatalf("newer version = %+v, want success", results[0])
	}
	got, err := repo.Get(ctx, recID)
	if err != nil {
		t.Fatalf("overwrite did not keep record id: %v", err)
	}
	if got.SyncVersion != 3 {
		t.Errorf("sync_version = %d, want 3", got.SyncVersion)
	}

	count := 0
	for range repo.items {
		count++
	}
	if count != 1 {
		t.Errorf("%d records after sync churn, want exactly 1", count)
	}
}

func TestSyncBatchIndependence(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	bad := submission()
	bad.SessionID = "ffffffffffffffffffffffffffffffff"
	good := submission()
	good.SyncVersion = 1

	results := svc.Sync(ctx, "s1", []Submission{bad, good})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Outcome != SyncFailed || results[0].Error == "" {
		t.Errorf("bad item = %+v, want failed with reason", results[0])
	}
	if results[1].Outcome != SyncSuccess {
		t.Errorf("good item after failure = %+v, want success", results[1])
	}
}

func TestManualEntry(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	teacher := roster.Actor{ID: "t1", Role: "teacher"}

	rec, err := svc.ManualEntry(ctx, teacher, ManualInput{
		StudentID:  "s1",
		ClassID:    "c1",
		ScheduleID: "sc1",
		Status:     StatusAbsent,
		AttendedAt: monday9.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("ManualEntry() error = %v", err)
	}
	if !rec.ManualEntry {
		t.Error("record not flagged manual")
	}
	if rec.SessionID != "" || rec.Coordinates != nil || rec.LivenessPassed != nil {
		t.Error("manual entry carries session or geo data")
	}

	// Second entry for the same student/schedule/day conflicts.
	_, err = svc.ManualEntry(ctx, teacher, ManualInput{
		StudentID:  "s1",
		ClassID:    "c1",
		ScheduleID: "sc1",
		Status:     StatusPresent,
		AttendedAt: monday9.Add(40 * time.Minute),
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("duplicate day: error = %v, want conflict", err)
	}
}

func TestManualEntryGuards(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	teacher := roster.Actor{ID: "t1", Role: "teacher"}

	base := ManualInput{
		StudentID:  "s1",
		ClassID:    "c1",
		ScheduleID: "sc1",
		Status:     StatusPresent,
		AttendedAt: monday9.Add(10 * time.Minute),
	}

	in := base
	in.Status = "vanished"
	if _, err := svc.ManualEntry(ctx, teacher, in); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad status: error = %v, want validation", err)
	}

	other := roster.Actor{ID: "t2", Role: "teacher"}
	if _, err := svc.ManualEntry(ctx, other, base); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("foreign teacher: error = %v, want authorization", err)
	}

	admin := roster.Actor{ID: "a1", Role: "admin"}
	if _, err := svc.ManualEntry(ctx, admin, base); err != nil {
		t.Errorf("admin on behalf: error = %v", err)
	}

	in = base
	in.AttendedAt = monday9.Add(2 * time.Hour) // past schedule end
	if _, err := svc.ManualEntry(ctx, teacher, in); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("outside window: error = %v, want validation", err)
	}

	in = base
	in.AttendedAt = monday9.Add(24 * time.Hour) // tuesday
	if _, err := svc.ManualEntry(ctx, teacher, in); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("wrong day: error = %v, want validation", err)
	}

	in = base
	in.StudentID = "s2"
	if _, err := svc.ManualEntry(ctx, teacher, in); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("not enrolled: error = %v, want authorization", err)
	}
}

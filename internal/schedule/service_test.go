package schedule

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
)

// memRepo is an in-memory Repository double.
type memRepo struct {
	mu    sync.Mutex
	seq   int
	items map[string]Schedule
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[string]Schedule)}
}

func (m *memRepo) nextID() string {
	m.seq++
	return "sched-" + strconv.Itoa(m.seq)
}

func (m *memRepo) Insert(_ context.Context, s Schedule) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.nextID()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.items[s.ID] = s
	return s, nil
}

func (m *memRepo) Get(_ context.Context, id string) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return Schedule{}, apperr.NotFound("schedule %s not found", id)
	}
	return s, nil
}

func (m *memRepo) Update(_ context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; !ok {
		return apperr.NotFound("schedule %s not found", s.ID)
	}
	m.items[s.ID] = s
	return nil
}

func (m *memRepo) ActiveByTeacherDay(_ context.Context, teacherID string, day Day) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Schedule
	for _, s := range m.items {
		if s.TeacherID == teacherID && s.Day == day && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) ActiveByTeacher(_ context.Context, teacherID string) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Schedule
	for _, s := range m.items {
		if s.TeacherID == teacherID && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) Restructure(_ context.Context, deactivateIDs []string, create []Schedule) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range deactivateIDs {
		s, ok := m.items[id]
		if !ok || !s.IsActive {
			return nil, apperr.Conflict("schedule %s is no longer active", id)
		}
	}
	for _, id := range deactivateIDs {
		s := m.items[id]
		s.IsActive = false
		m.items[id] = s
	}
	out := make([]Schedule, 0, len(create))
	for _, s := range create {
		if s.ID == "" {
			s.ID = m.nextID()
		}
		m.items[s.ID] = s
		out = append(out, s)
	}
	return out, nil
}

// memDirectory resolves every class to the same teacher.
type memDirectory struct{ teacherID string }

func (d memDirectory) Role(context.Context, string) (string, error) { return "teacher", nil }

func (d memDirectory) IsEnrolled(context.Context, string, string) (bool, error) { return true, nil }

func (d memDirectory) ClassByID(_ context.Context, classID string) (roster.Class, error) {
	return roster.Class{ID: classID, TeacherID: d.teacherID}, nil
}

func newTestService() (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo, memDirectory{teacherID: "t1"}), repo
}

func block(teacher string, day Day, start, end string) Schedule {
	s, _ := ParseMinutes(start)
	e, _ := ParseMinutes(end)
	return Schedule{
		ClassID:    "c1",
		TeacherID:  teacher,
		Day:        day,
		StartMin:   s,
		EndMin:     e,
		RoomNumber: "101",
		Location:   geo.Point{Lat: 12.97, Lon: 77.59},
	}
}

var asTeacher = roster.Actor{ID: "t1", Role: "teacher"}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name   string
		a, b   [2]string
		expect bool
	}{
		{name: "back to back", a: [2]string{"09:00", "10:00"}, b: [2]string{"10:00", "11:00"}, expect: false},
		{name: "partial", a: [2]string{"09:00", "10:30"}, b: [2]string{"10:00", "11:00"}, expect: true},
		{name: "contained", a: [2]string{"09:00", "12:00"}, b: [2]string{"10:00", "11:00"}, expect: true},
		{name: "identical", a: [2]string{"09:00", "10:00"}, b: [2]string{"09:00", "10:00"}, expect: true},
		{name: "disjoint", a: [2]string{"08:00", "09:00"}, b: [2]string{"11:00", "12:00"}, expect: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := block("t1", Monday, tt.a[0], tt.a[1])
			b := block("t1", Monday, tt.b[0], tt.b[1])
			if got := a.Overlaps(b); got != tt.expect {
				t.Errorf("Overlaps() = %v, want %v", got, tt.expect)
			}
			if got := b.Overlaps(a); got != tt.expect {
				t.Errorf("Overlaps() not symmetric: %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:30"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = svc.Create(ctx, asTeacher, block("t1", Monday, "10:00", "11:00"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Create() error = %v, want conflict", err)
	}
	var appErr *apperr.Error
	if !asAppErr(err, &appErr) || appErr.Details == nil {
		t.Fatal("conflict error does not carry the colliding schedule")
	}
	if colliding, ok := appErr.Details.(Schedule); !ok || colliding.ID != first.ID {
		t.Errorf("colliding schedule = %+v, want %s", appErr.Details, first.ID)
	}

	// Back to back is fine.
	if _, err := svc.Create(ctx, asTeacher, block("t1", Monday, "10:30", "11:30")); err != nil {
		t.Errorf("Create() back-to-back error = %v", err)
	}
	// Different day is fine.
	if _, err := svc.Create(ctx, asTeacher, block("t1", Tuesday, "09:00", "10:30")); err != nil {
		t.Errorf("Create() other-day error = %v", err)
	}
}

func asAppErr(err error, target **apperr.Error) bool {
	e, ok := err.(*apperr.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	bad := block("t1", Monday, "10:00", "09:00")
	if _, err := svc.Create(ctx, asTeacher, bad); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("inverted times: error = %v, want validation", err)
	}

	bad = block("t1", Day(7), "09:00", "10:00")
	if _, err := svc.Create(ctx, asTeacher, bad); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("sunday: error = %v, want validation", err)
	}

	bad = block("t1", Monday, "09:00", "10:00")
	bad.Location = geo.Point{Lat: 95, Lon: 0}
	if _, err := svc.Create(ctx, asTeacher, bad); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad coordinates: error = %v, want validation", err)
	}
}

func TestCreateAuthorization(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	other := roster.Actor{ID: "t2", Role: "teacher"}
	if _, err := svc.Create(ctx, other, block("t1", Monday, "09:00", "10:00")); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("foreign teacher: error = %v, want authorization", err)
	}

	admin := roster.Actor{ID: "a1", Role: "admin"}
	if _, err := svc.Create(ctx, admin, block("t1", Monday, "09:00", "10:00")); err != nil {
		t.Errorf("admin on behalf: error = %v", err)
	}
}

func TestPatchExcludesSelf(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:00"))
	if err != nil {
		t.Fatal(err)
	}

	// Growing the block into its own slot must not self-conflict.
	end, _ := ParseMinutes("10:30")
	updated, err := svc.Patch(ctx, asTeacher, created.ID, Update{EndMin: &end})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if updated.EndMin != end {
		t.Errorf("EndMin = %d, want %d", updated.EndMin, end)
	}

	if _, err := svc.Patch(ctx, asTeacher, "missing", Update{EndMin: &end}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown id: error = %v, want not found", err)
	}
}

func TestDeleteIsSoft(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, asTeacher, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("deleted schedule physically removed: %v", err)
	}
	if got.IsActive {
		t.Error("schedule still active after delete")
	}

	// The freed slot is immediately reusable.
	if _, err := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:00")); err != nil {
		t.Errorf("Create() into freed slot error = %v", err)
	}
}

func TestMerge(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	a, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:00"))
	b, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "10:00", "11:00"))

	merged, err := svc.Merge(ctx, asTeacher, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged.StartTime() != "09:00" || merged.EndTime() != "11:00" {
		t.Errorf("merged span = %s-%s, want 09:00-11:00", merged.StartTime(), merged.EndTime())
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := repo.Get(ctx, id)
		if got.IsActive {
			t.Errorf("input %s still active after merge", id)
		}
	}
}

func TestMergeNonAdjacentAbsorbsGap(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "08:00", "09:00"))
	b, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "11:00", "12:00"))

	merged, err := svc.Merge(ctx, asTeacher, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged.StartTime() != "08:00" || merged.EndTime() != "12:00" {
		t.Errorf("merged span = %s-%s, want 08:00-12:00", merged.StartTime(), merged.EndTime())
	}
}

func TestMergePreconditions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:00"))

	if _, err := svc.Merge(ctx, asTeacher, []string{a.ID}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("single input: error = %v, want validation", err)
	}

	otherRoom := block("t1", Monday, "10:00", "11:00")
	otherRoom.RoomNumber = "202"
	b, _ := svc.Create(ctx, asTeacher, otherRoom)
	if _, err := svc.Merge(ctx, asTeacher, []string{a.ID, b.ID}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("different room: error = %v, want validation", err)
	}

	otherDay, _ := svc.Create(ctx, asTeacher, block("t1", Tuesday, "10:00", "11:00"))
	if _, err := svc.Merge(ctx, asTeacher, []string{a.ID, otherDay.ID}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("different day: error = %v, want validation", err)
	}
}

func TestSplit(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	orig, err := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "13:15"))
	if err != nil {
		t.Fatal(err)
	}

	p1, _ := ParseMinutes("10:00")
	p2, _ := ParseMinutes("11:15")
	parts, err := svc.Split(ctx, asTeacher, orig.ID, []int{p1, p2})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("Split() produced %d parts, want 3", len(parts))
	}
	want := [][2]string{{"09:00", "10:00"}, {"10:00", "11:15"}, {"11:15", "13:15"}}
	for i, w := range want {
		if parts[i].StartTime() != w[0] || parts[i].EndTime() != w[1] {
			t.Errorf("part %d = %s-%s, want %s-%s", i, parts[i].StartTime(), parts[i].EndTime(), w[0], w[1])
		}
		if parts[i].RoomNumber != orig.RoomNumber || parts[i].ClassID != orig.ClassID {
			t.Errorf("part %d lost inherited attributes", i)
		}
	}

	got, _ := repo.Get(ctx, orig.ID)
	if got.IsActive {
		t.Error("original still active after split")
	}
}

func TestSplitValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	orig, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "12:00"))

	nine, _ := ParseMinutes("09:00")
	ten, _ := ParseMinutes("10:00")
	noon, _ := ParseMinutes("12:00")
	late, _ := ParseMinutes("13:00")

	tests := []struct {
		name   string
		points []int
	}{
		{name: "empty", points: nil},
		{name: "at start", points: []int{nine}},
		{name: "at end", points: []int{noon}},
		{name: "outside", points: []int{late}},
		{name: "not increasing", points: []int{ten, ten}},
		{name: "decreasing", points: []int{ten, nine}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Split(ctx, asTeacher, orig.ID, tt.points); !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("Split(%v) error = %v, want validation", tt.points, err)
			}
		})
	}
}

func TestCheckConflictProbe(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, _ := svc.Create(ctx, asTeacher, block("t1", Monday, "09:00", "10:00"))

	s, _ := ParseMinutes("09:30")
	e, _ := ParseMinutes("10:30")
	colliding, err := svc.CheckConflict(ctx, "t1", Monday, s, e)
	if err != nil {
		t.Fatalf("CheckConflict() error = %v", err)
	}
	if colliding == nil || colliding.ID != created.ID {
		t.Errorf("CheckConflict() = %v, want %s", colliding, created.ID)
	}

	s, _ = ParseMinutes("10:00")
	e, _ = ParseMinutes("11:00")
	colliding, err = svc.CheckConflict(ctx, "t1", Monday, s, e)
	if err != nil {
		t.Fatalf("CheckConflict() error = %v", err)
	}
	if colliding != nil {
		t.Errorf("CheckConflict() = %v, want nil for free slot", colliding)
	}
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "09:00", want: 540},
		{in: "00:00", want: 0},
		{in: "23:59", want: 1439},
		{in: "13:15", want: 795},
		{in: "9:00", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMinutes(tt.in)
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Errorf("ParseMinutes(%q) error = %v, want validation", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMinutes(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMinutes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

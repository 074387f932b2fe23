package schedule

import (
	"context"
	"sort"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/metrics"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
)

// Service enforces conflict-freedom over a teacher's active weekly
// blocks and owns the merge/split lifecycle.
type Service struct {
	repo    Repository
	classes roster.Directory
}

// NewService wires the engine with its persistence and the class
// directory.
func NewService(repo Repository, classes roster.Directory) *Service {
	return &Service{repo: repo, classes: classes}
}

func (s *Service) authorize(actor roster.Actor, teacherID string) error {
	if actor.IsAdmin() || actor.ID == teacherID {
		return nil
	}
	return apperr.Authorization("schedule belongs to another teacher")
}

func validateBlock(sc Schedule) error {
	if sc.ClassID == "" || sc.TeacherID == "" {
		return apperr.Validation("classId and teacherId are required")
	}
	if !sc.Day.Valid() {
		return apperr.Validation("dayOfWeek must be Monday through Saturday")
	}
	if sc.StartMin < 0 || sc.EndMin > 24*60 || sc.StartMin >= sc.EndMin {
		return apperr.Validation("startTime must be before endTime within one day")
	}
	return sc.Location.Validate()
}

// findCollision returns the first active block of the teacher on the
// day whose [start,end) intersects the candidate, skipping excludeID.
func (s *Service) findCollision(ctx context.Context, teacherID string, day Day, startMin, endMin int, excludeID string) (*Schedule, error) {
	existing, err := s.repo.ActiveByTeacherDay(ctx, teacherID, day)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].ID == excludeID {
			continue
		}
		if overlaps(existing[i].StartMin, existing[i].EndMin, startMin, endMin) {
			return &existing[i], nil
		}
	}
	return nil, nil
}

// Create persists a new block after the overlap check. The conflict
// error carries the colliding schedule.
func (s *Service) Create(ctx context.Context, actor roster.Actor, sc Schedule) (Schedule, error) {
	if err := validateBlock(sc); err != nil {
		return Schedule{}, err
	}
	if err := s.authorize(actor, sc.TeacherID); err != nil {
		return Schedule{}, err
	}
	if _, err := s.classes.ClassByID(ctx, sc.ClassID); err != nil {
		return Schedule{}, err
	}
	colliding, err := s.findCollision(ctx, sc.TeacherID, sc.Day, sc.StartMin, sc.EndMin, "")
	if err != nil {
		return Schedule{}, err
	}
	if colliding != nil {
		metrics.ScheduleConflicts.Inc()
		return Schedule{}, apperr.Conflict("overlaps existing schedule %s (%s %s-%s)",
			colliding.ID, colliding.Day, colliding.StartTime(), colliding.EndTime()).WithDetails(*colliding)
	}
	sc.IsActive = true
	return s.repo.Insert(ctx, sc)
}

// Update is a patch of a single block's fields. Zero values leave the
// field unchanged; times move together or alone.
type Update struct {
	Day          *Day
	StartMin     *int
	EndMin       *int
	RoomNumber   *string
	SessionType  *string
	Semester     *string
	AcademicYear *string
	Location     *geo.Point
}

// Patch re-runs the overlap check with the block's own id excluded.
func (s *Service) Patch(ctx context.Context, actor roster.Actor, id string, upd Update) (Schedule, error) {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if err := s.authorize(actor, sc.TeacherID); err != nil {
		return Schedule{}, err
	}
	if !sc.IsActive {
		return Schedule{}, apperr.Validation("schedule %s is inactive", id)
	}
	if upd.Day != nil {
		sc.Day = *upd.Day
	}
	if upd.StartMin != nil {
		sc.StartMin = *upd.StartMin
	}
	if upd.EndMin != nil {
		sc.EndMin = *upd.EndMin
	}
	if upd.RoomNumber != nil {
		sc.RoomNumber = *upd.RoomNumber
	}
	if upd.SessionType != nil {
		sc.SessionType = *upd.SessionType
	}
	if upd.Semester != nil {
		sc.Semester = *upd.Semester
	}
	if upd.AcademicYear != nil {
		sc.AcademicYear = *upd.AcademicYear
	}
	if upd.Location != nil {
		sc.Location = *upd.Location
	}
	if err := validateBlock(sc); err != nil {
		return Schedule{}, err
	}
	colliding, err := s.findCollision(ctx, sc.TeacherID, sc.Day, sc.StartMin, sc.EndMin, sc.ID)
	if err != nil {
		return Schedule{}, err
	}
	if colliding != nil {
		metrics.ScheduleConflicts.Inc()
		return Schedule{}, apperr.Conflict("overlaps existing schedule %s (%s %s-%s)",
			colliding.ID, colliding.Day, colliding.StartTime(), colliding.EndTime()).WithDetails(*colliding)
	}
	if err := s.repo.Update(ctx, sc); err != nil {
		return Schedule{}, err
	}
	return sc, nil
}

// Delete soft-deletes. Historical attendance keeps referencing the row,
// so nothing is ever physically removed.
func (s *Service) Delete(ctx context.Context, actor roster.Actor, id string) error {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, sc.TeacherID); err != nil {
		return err
	}
	if !sc.IsActive {
		return nil
	}
	sc.IsActive = false
	return s.repo.Update(ctx, sc)
}

// Merge replaces two or more active blocks sharing class, teacher, day
// and room with one block spanning [min(starts), max(ends)). Adjacency
// of the inputs is not required; gaps are absorbed. Atomic: either the
// merged block exists and all inputs are inactive, or nothing changed.
func (s *Service) Merge(ctx context.Context, actor roster.Actor, ids []string) (Schedule, error) {
	if len(ids) < 2 {
		return Schedule{}, apperr.Validation("merge requires at least two schedules")
	}
	inputs := make([]Schedule, 0, len(ids))
	for _, id := range ids {
		sc, err := s.repo.Get(ctx, id)
		if err != nil {
			return Schedule{}, err
		}
		if !sc.IsActive {
			return Schedule{}, apperr.Validation("schedule %s is inactive", id)
		}
		inputs = append(inputs, sc)
	}
	first := inputs[0]
	if err := s.authorize(actor, first.TeacherID); err != nil {
		return Schedule{}, err
	}
	for _, sc := range inputs[1:] {
		if sc.ClassID != first.ClassID || sc.TeacherID != first.TeacherID ||
			sc.Day != first.Day || sc.RoomNumber != first.RoomNumber {
			return Schedule{}, apperr.Validation(
				"schedule %s does not share class, teacher, day and room with %s", sc.ID, first.ID)
		}
	}

	merged := first
	merged.ID = ""
	for _, sc := range inputs[1:] {
		if sc.StartMin < merged.StartMin {
			merged.StartMin = sc.StartMin
		}
		if sc.EndMin > merged.EndMin {
			merged.EndMin = sc.EndMin
		}
	}

	created, err := s.repo.Restructure(ctx, ids, []Schedule{merged})
	if err != nil {
		return Schedule{}, err
	}
	return created[0], nil
}

// Split cuts one active block at strictly increasing interior points
// into contiguous pieces inheriting every other attribute, and
// deactivates the original. Atomic like Merge.
func (s *Service) Split(ctx context.Context, actor roster.Actor, id string, splitPoints []int) ([]Schedule, error) {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, sc.TeacherID); err != nil {
		return nil, err
	}
	if !sc.IsActive {
		return nil, apperr.Validation("schedule %s is inactive", id)
	}
	if len(splitPoints) == 0 {
		return nil, apperr.Validation("at least one split point required")
	}

	parts := make([]Schedule, 0, len(splitPoints)+1)
	cursor := sc.StartMin
	bounds := append(append([]int{}, splitPoints...), sc.EndMin)
	for _, p := range bounds {
		if p <= cursor || p > sc.EndMin {
			return nil, apperr.Validation("split point %s not strictly inside the remaining block",
				FormatMinutes(p))
		}
		part := sc
		part.ID = ""
		part.StartMin = cursor
		part.EndMin = p
		parts = append(parts, part)
		cursor = p
	}

	created, err := s.repo.Restructure(ctx, []string{sc.ID}, parts)
	if err != nil {
		return nil, err
	}
	sort.Slice(created, func(i, j int) bool { return created[i].StartMin < created[j].StartMin })
	return created, nil
}

// CheckConflict is the read-only probe UIs call before submitting.
// Returns the colliding schedule, nil when the slot is free.
func (s *Service) CheckConflict(ctx context.Context, teacherID string, day Day, startMin, endMin int) (*Schedule, error) {
	if !day.Valid() {
		return nil, apperr.Validation("dayOfWeek must be Monday through Saturday")
	}
	if startMin < 0 || endMin > 24*60 || startMin >= endMin {
		return nil, apperr.Validation("startTime must be before endTime within one day")
	}
	return s.findCollision(ctx, teacherID, day, startMin, endMin, "")
}

// ListActive returns a teacher's active blocks ordered by day and time.
func (s *Service) ListActive(ctx context.Context, teacherID string) ([]Schedule, error) {
	return s.repo.ActiveByTeacher(ctx, teacherID)
}

// Get loads one schedule, active or not.
func (s *Service) Get(ctx context.Context, id string) (Schedule, error) {
	return s.repo.Get(ctx, id)
}

package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
)

// Repository is the persistence contract the engine is wired with;
// tests substitute an in-memory double.
type Repository interface {
	Insert(ctx context.Context, s Schedule) (Schedule, error)
	Get(ctx context.Context, id string) (Schedule, error)
	Update(ctx context.Context, s Schedule) error
	ActiveByTeacherDay(ctx context.Context, teacherID string, day Day) ([]Schedule, error)
	ActiveByTeacher(ctx context.Context, teacherID string) ([]Schedule, error)
	// Restructure deactivates the given schedules and inserts the
	// replacements in one transaction; either all mutations are
	// observed or none.
	Restructure(ctx context.Context, deactivateIDs []string, create []Schedule) ([]Schedule, error)
}

// PGRepository persists schedules in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

const scheduleCols = `id, class_id, teacher_id, day_of_week, start_min, end_min,
	room_number, session_type, semester, academic_year, lat, lon, is_active, created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ClassID, &s.TeacherID, &s.Day, &s.StartMin, &s.EndMin,
		&s.RoomNumber, &s.SessionType, &s.Semester, &s.AcademicYear,
		&s.Location.Lat, &s.Location.Lon, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Insert writes a new schedule row.
func (r *PGRepository) Insert(ctx context.Context, s Schedule) (Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, s.ID, s.ClassID, s.TeacherID, s.Day, s.StartMin, s.EndMin,
		s.RoomNumber, s.SessionType, s.Semester, s.AcademicYear,
		s.Location.Lat, s.Location.Lon, s.IsActive, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return Schedule{}, errors.Wrap(err, "insert schedule")
	}
	return s, nil
}

// Get loads a schedule by id, active or not.
func (r *PGRepository) Get(ctx context.Context, id string) (Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, apperr.NotFound("schedule %s not found", id)
	}
	if err != nil {
		return Schedule{}, errors.Wrap(err, "get schedule")
	}
	return s, nil
}

// Update rewrites a schedule row in place.
func (r *PGRepository) Update(ctx context.Context, s Schedule) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedules
		SET class_id=$2, teacher_id=$3, day_of_week=$4, start_min=$5, end_min=$6,
			room_number=$7, session_type=$8, semester=$9, academic_year=$10,
			lat=$11, lon=$12, is_active=$13, updated_at=$14
		WHERE id = $1
	`, s.ID, s.ClassID, s.TeacherID, s.Day, s.StartMin, s.EndMin,
		s.RoomNumber, s.SessionType, s.Semester, s.AcademicYear,
		s.Location.Lat, s.Location.Lon, s.IsActive, s.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update schedule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("schedule %s not found", s.ID)
	}
	return nil
}

// ActiveByTeacherDay lists a teacher's active blocks on one day.
func (r *PGRepository) ActiveByTeacherDay(ctx context.Context, teacherID string, day Day) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleCols+` FROM schedules
		WHERE teacher_id = $1 AND day_of_week = $2 AND is_active
		ORDER BY start_min
	`, teacherID, day)
	if err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	return collect(rows)
}

// ActiveByTeacher lists all of a teacher's active blocks.
func (r *PGRepository) ActiveByTeacher(ctx context.Context, teacherID string) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleCols+` FROM schedules
		WHERE teacher_id = $1 AND is_active
		ORDER BY day_of_week, start_min
	`, teacherID)
	if err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Schedule, error) {
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Restructure deactivates and creates schedules atomically. Used by
// merge and split so concurrent restructures never observe a
// half-mutated set.
func (r *PGRepository) Restructure(ctx context.Context, deactivateIDs []string, create []Schedule) ([]Schedule, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin restructure")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range deactivateIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE schedules SET is_active = FALSE, updated_at = $2
			WHERE id = $1 AND is_active
		`, id, now)
		if err != nil {
			return nil, errors.Wrap(err, "deactivate schedule")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Raced with a concurrent merge/split; abort.
			return nil, apperr.Conflict("schedule %s is no longer active", id)
		}
	}

	out := make([]Schedule, 0, len(create))
	for _, s := range create {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.CreatedAt, s.UpdatedAt = now, now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedules (`+scheduleCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, s.ID, s.ClassID, s.TeacherID, s.Day, s.StartMin, s.EndMin,
			s.RoomNumber, s.SessionType, s.Semester, s.AcademicYear,
			s.Location.Lat, s.Location.Lon, s.IsActive, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "insert restructured schedule")
		}
		out = append(out, s)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit restructure")
	}
	return out, nil
}

package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
)

// Repository is the persistence contract for attendance records.
type Repository interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	GetBySession(ctx context.Context, sessionID, studentID string) (Record, error)
	Overwrite(ctx context.Context, rec Record) error
	ExistsForScheduleDay(ctx context.Context, studentID, scheduleID string, day time.Time) (bool, error)
	ListByClass(ctx context.Context, classID, sessionID string, limit int) ([]Record, error)
	SetLiveness(ctx context.Context, id string, passed bool) error
}

// PGRepository persists attendance records in Postgres. A partial
// unique index on (session_id, student_id) enforces at-most-one live
// record per pair even under concurrent submissions.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

const recordCols = `id, student_id, class_id, schedule_id, session_id, lat, lon,
	liveness_passed, face_image_url, status, sync_version, manual_entry,
	attended_at, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var scheduleID, sessionID sql.NullString
	var lat, lon sql.NullFloat64
	var liveness sql.NullBool
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &scheduleID, &sessionID,
		&lat, &lon, &liveness, &rec.FaceImageURL, &rec.Status, &rec.SyncVersion,
		&rec.ManualEntry, &rec.AttendedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.ScheduleID = scheduleID.String
	rec.SessionID = sessionID.String
	if lat.Valid && lon.Valid {
		rec.Coordinates = &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	if liveness.Valid {
		rec.LivenessPassed = &liveness.Bool
	}
	return rec, nil
}

// isUniqueViolation reports a Postgres 23505 on the way out of an
// insert; submissions racing on the same (session, student) pair hit
// this instead of duplicating.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert writes a new record; a duplicate (session, student) pair
// surfaces as a conflict.
func (r *PGRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	var lat, lon sql.NullFloat64
	if rec.Coordinates != nil {
		lat = sql.NullFloat64{Float64: rec.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Coordinates.Lon, Valid: true}
	}
	var liveness sql.NullBool
	if rec.LivenessPassed != nil {
		liveness = sql.NullBool{Bool: *rec.LivenessPassed, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, rec.ID, rec.StudentID, rec.ClassID, nullable(rec.ScheduleID), nullable(rec.SessionID),
		lat, lon, liveness, rec.FaceImageURL, rec.Status, rec.SyncVersion,
		rec.ManualEntry, rec.AttendedAt, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return Record{}, apperr.Conflict("attendance already recorded for this session")
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "insert attendance record")
	}
	return rec, nil
}

// Get loads one record by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.NotFound("attendance record %s not found", id)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "get attendance record")
	}
	return rec, nil
}

// GetBySession loads the record for a (session, student) pair.
func (r *PGRepository) GetBySession(ctx context.Context, sessionID, studentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.NotFound("no record for session %s student %s", sessionID, studentID)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "get attendance record")
	}
	return rec, nil
}

// Overwrite rewrites a record in place, keeping its identity. Used by
// sync when a higher version arrives.
func (r *PGRepository) Overwrite(ctx context.Context, rec Record) error {
	var lat, lon sql.NullFloat64
	if rec.Coordinates != nil {
		lat = sql.NullFloat64{Float64: rec.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Coordinates.Lon, Valid: true}
	}
	var liveness sql.NullBool
	if rec.LivenessPassed != nil {
		liveness = sql.NullBool{Bool: *rec.LivenessPassed, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET lat=$2, lon=$3, liveness_passed=$4, face_image_url=$5, status=$6,
			sync_version=$7, attended_at=$8, updated_at=NOW()
		WHERE id = $1
	`, rec.ID, lat, lon, liveness, rec.FaceImageURL, rec.Status, rec.SyncVersion, rec.AttendedAt)
	if err != nil {
		return errors.Wrap(err, "overwrite attendance record")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attendance record %s not found", rec.ID)
	}
	return nil
}

// ExistsForScheduleDay reports whether the student already has a record
// for the schedule on the given calendar day.
func (r *PGRepository) ExistsForScheduleDay(ctx context.Context, studentID, scheduleID string, day time.Time) (bool, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE student_id = $1 AND schedule_id = $2
			  AND attended_at >= $3 AND attended_at < $4
		)`, studentID, scheduleID, dayStart, dayEnd).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "probe attendance for day")
	}
	return ok, nil
}

// ListByClass returns a class's records, optionally narrowed to one
// session, newest first.
func (r *PGRepository) ListByClass(ctx context.Context, classID, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + recordCols + ` FROM attendance_records WHERE class_id = $1`
	args := []any{classID}
	if sessionID != "" {
		query += ` AND session_id = $2`
		args = append(args, sessionID)
	}
	query += ` ORDER BY attended_at DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list attendance records")
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetLiveness records the asynchronous face-verification outcome.
func (r *PGRepository) SetLiveness(ctx context.Context, id string, passed bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET liveness_passed = $2, updated_at = NOW() WHERE id = $1
	`, id, passed)
	return errors.Wrap(err, "set liveness")
}

package store

import "database/sql"

// Migrate applies the schema. Idempotent; runs at startup.
func Migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS classes (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		teacher_id  TEXT NOT NULL REFERENCES users(id),
		room_number TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		class_id   TEXT NOT NULL REFERENCES classes(id),
		student_id TEXT NOT NULL REFERENCES users(id),
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (class_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id            TEXT PRIMARY KEY,
		class_id      TEXT NOT NULL REFERENCES classes(id),
		teacher_id    TEXT NOT NULL REFERENCES users(id),
		day_of_week   SMALLINT NOT NULL,
		start_min     SMALLINT NOT NULL,
		end_min       SMALLINT NOT NULL,
		room_number   TEXT NOT NULL,
		session_type  TEXT NOT NULL DEFAULT 'lecture',
		semester      TEXT NOT NULL DEFAULT '',
		academic_year TEXT NOT NULL DEFAULT '',
		lat           DOUBLE PRECISION NOT NULL DEFAULT 0,
		lon           DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_teacher_day
		ON schedules (teacher_id, day_of_week) WHERE is_active;

	CREATE TABLE IF NOT EXISTS attendance_records (
		id              TEXT PRIMARY KEY,
		student_id      TEXT NOT NULL REFERENCES users(id),
		class_id        TEXT NOT NULL REFERENCES classes(id),
		schedule_id     TEXT REFERENCES schedules(id),
		session_id      TEXT,
		lat             DOUBLE PRECISION,
		lon             DOUBLE PRECISION,
		liveness_passed BOOLEAN,
		face_image_url  TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		sync_version    BIGINT NOT NULL DEFAULT 0,
		manual_entry    BOOLEAN NOT NULL DEFAULT FALSE,
		attended_at     TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_session_student
		ON attendance_records (session_id, student_id) WHERE session_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_attendance_student
		ON attendance_records (student_id, attended_at);
	CREATE INDEX IF NOT EXISTS idx_attendance_class
		ON attendance_records (class_id, attended_at);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id         BIGSERIAL PRIMARY KEY,
		actor_id   TEXT NOT NULL,
		action     TEXT NOT NULL,
		details    JSONB NOT NULL DEFAULT '{}',
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs (created_at);
	`
	_, err := db.Exec(schema)
	return err
}

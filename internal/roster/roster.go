// Package roster is the user/class/enrollment directory consumed by the
// session, schedule and attendance services. It is a narrow lookup
// surface over plain CRUD data owned elsewhere.
package roster

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/auth"
)

// Actor identifies the authenticated caller of a domain operation.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor may act on behalf of any teacher.
func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

// User is a directory entry.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Class is a taught class with its owning teacher.
type Class struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	TeacherID  string    `json:"teacherId"`
	RoomNumber string    `json:"roomNumber"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Directory is the lookup contract injected into the domain services.
type Directory interface {
	Role(ctx context.Context, userID string) (string, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	ClassByID(ctx context.Context, classID string) (Class, error)
}

// PGDirectory backs the directory with Postgres.
type PGDirectory struct {
	db *sql.DB
}

// NewPGDirectory creates a directory over the given database.
func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// Role returns the role of an active user.
func (d *PGDirectory) Role(ctx context.Context, userID string) (string, error) {
	var role string
	err := d.db.QueryRowContext(ctx,
		`SELECT role FROM users WHERE id = $1 AND is_active`, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return "", errors.Wrap(err, "lookup role")
	}
	return role, nil
}

// IsEnrolled reports whether the student has an active enrollment in
// the class.
func (d *PGDirectory) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var ok bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments
			WHERE student_id = $1 AND class_id = $2 AND is_active
		)`, studentID, classID).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "lookup enrollment")
	}
	return ok, nil
}

// ClassByID loads a class.
func (d *PGDirectory) ClassByID(ctx context.Context, classID string) (Class, error) {
	var cl Class
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, teacher_id, room_number, created_at
		FROM classes WHERE id = $1
	`, classID).Scan(&cl.ID, &cl.Name, &cl.TeacherID, &cl.RoomNumber, &cl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Class{}, apperr.NotFound("class %s not found", classID)
	}
	if err != nil {
		return Class{}, errors.Wrap(err, "get class")
	}
	return cl, nil
}

// UserByEmail loads an active user for login.
func (d *PGDirectory) UserByEmail(ctx context.Context, email string) (User, string, error) {
	var u User
	var hash string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, is_active, created_at
		FROM users WHERE email = $1 AND is_active
	`, email).Scan(&u.ID, &u.Name, &u.Email, &hash, &u.Role, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, "", apperr.NotFound("no account for %s", email)
	}
	if err != nil {
		return User{}, "", errors.Wrap(err, "get user")
	}
	return u, hash, nil
}

// Package audit records who did what to sessions, schedules and
// attendance. Events are published fire-and-forget from the request
// path and persisted by the worker.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/devparmar15199/qr-student-app-backend/internal/queue"
)

// Event outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Event is one audit entry.
type Event struct {
	ActorID   string         `json:"actorId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Logger is the write side exposed to handlers.
type Logger interface {
	Record(ctx context.Context, actorID, action string, details map[string]any, status string)
}

// QueueLogger publishes events onto the work queue. Failures are logged
// and dropped; auditing never fails a request.
type QueueLogger struct {
	q queue.Queue
}

// NewQueueLogger wraps the given queue.
func NewQueueLogger(q queue.Queue) *QueueLogger {
	return &QueueLogger{q: q}
}

// Record publishes an event with the current timestamp.
func (l *QueueLogger) Record(ctx context.Context, actorID, action string, details map[string]any, status string) {
	if l == nil || l.q == nil {
		return
	}
	ev := Event{
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	msg, err := queue.NewMessage(queue.TypeAuditEvent, ev)
	if err != nil {
		log.Printf("audit: encode %s: %v", action, err)
		return
	}
	if err := l.q.Publish(ctx, msg); err != nil {
		log.Printf("audit: publish %s: %v", action, err)
	}
}

// Writer persists events; the worker owns one.
type Writer struct {
	db *sql.DB
}

// NewWriter creates a writer over the given database.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Insert stores one event.
func (w *Writer) Insert(ctx context.Context, ev Event) error {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return errors.Wrap(err, "encode audit details")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO audit_logs (actor_id, action, details, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ActorID, ev.Action, raw, ev.Status, ev.CreatedAt,
	)
	return errors.Wrap(err, "insert audit log")
}

// Purge deletes entries older than the retention window and returns the
// number removed.
func (w *Writer) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < $1`,
		time.Now().UTC().Add(-retention),
	)
	if err != nil {
		return 0, errors.Wrap(err, "purge audit logs")
	}
	return res.RowsAffected()
}

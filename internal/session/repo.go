package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
)

// Repository is the session store contract. The production store keys
// sessions with a TTL so physical expiry is handled by the store's own
// reaper; callers still re-check Usable on every load.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	ActiveIDsByTeacher(ctx context.Context, teacherID string) ([]string, error)
}

const (
	sessionKeyPrefix = "qr:session:"
	teacherKeyPrefix = "qr:teacher:"

	// reapGrace keeps the document around briefly past ExpiresAt so
	// terminated or just-expired sessions resolve to a clean expiry
	// error instead of not-found.
	reapGrace = 2 * time.Minute
)

// RedisRepository stores session documents in redis with TTL-based
// expiry.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates the store.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func teacherKey(teacherID string) string { return teacherKeyPrefix + teacherID }

// Create claims the session id with SETNX; a collision surfaces as a
// conflict rather than a silent overwrite.
func (r *RedisRepository) Create(ctx context.Context, s Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	ttl := time.Until(s.ExpiresAt) + reapGrace
	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), body, ttl).Result()
	if err != nil {
		return errors.Wrap(err, "store session")
	}
	if !ok {
		return apperr.Conflict("session id %s already exists", s.ID)
	}
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, teacherKey(s.TeacherID), s.ID)
	pipe.Expire(ctx, teacherKey(s.TeacherID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "index session by teacher")
	}
	return nil
}

// Get loads a session document. A key the reaper already swept is
// reported as not found.
func (r *RedisRepository) Get(ctx context.Context, id string) (Session, error) {
	body, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "load session")
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, errors.Wrap(err, "decode session")
	}
	return s, nil
}

// Save rewrites the document preserving its TTL.
func (r *RedisRepository) Save(ctx context.Context, s Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	err = r.client.Set(ctx, sessionKey(s.ID), body, redis.KeepTTL).Err()
	return errors.Wrap(err, "save session")
}

// ActiveIDsByTeacher returns the ids indexed for the teacher, pruning
// entries the reaper has swept.
func (r *RedisRepository) ActiveIDsByTeacher(ctx context.Context, teacherID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, teacherKey(teacherID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list teacher sessions")
	}
	live := ids[:0]
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return nil, errors.Wrap(err, "probe session")
		}
		if exists == 0 {
			r.client.SRem(ctx, teacherKey(teacherID), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

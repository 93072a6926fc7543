// Package verify provides a time-bounded store for one-shot
// verification codes. Codes expire after a fixed TTL and are consumed
// on a successful match. Delivery (email) belongs to the caller.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeMismatch is returned when the presented code is wrong, expired,
// or was never issued.
var ErrCodeMismatch = errors.New("verify: code mismatch or expired")

// DefaultTTL bounds how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

const codeDigits = 6

// Store issues and checks verification codes keyed by an opaque subject
// (typically an email address).
type Store interface {
	// Issue generates a fresh code for the subject, replacing any
	// outstanding one, and returns it for delivery.
	Issue(ctx context.Context, subject string) (string, error)

	// Confirm checks the code and consumes it on success.
	Confirm(ctx context.Context, subject, code string) error
}

// newCode returns a random fixed-length numeric code with uniform
// digits. Bytes >= 250 are rejected so the modulo does not skew the
// distribution toward 0-5.
func newCode() (string, error) {
	code := make([]byte, 0, codeDigits)
	buf := make([]byte, 1)
	for len(code) < codeDigits {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if buf[0] >= 250 {
			continue
		}
		code = append(code, '0'+buf[0]%10)
	}
	return string(code), nil
}

// MemoryStore keeps codes in a map with explicit expiry. Used for
// development and tests; a single-process deployment can use it in
// production at the cost of losing codes on restart.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	codes map[string]memoryCode
	now   func() time.Time
}

type memoryCode struct {
	code      string
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory code store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:   ttl,
		codes: make(map[string]memoryCode),
		now:   time.Now,
	}
}

func (s *MemoryStore) Issue(_ context.Context, subject string) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Opportunistically drop expired entries so the map stays bounded.
	now := s.now()
	for k, v := range s.codes {
		if now.After(v.expiresAt) {
			delete(s.codes, k)
		}
	}

	s.codes[subject] = memoryCode{code: code, expiresAt: now.Add(s.ttl)}
	return code, nil
}

func (s *MemoryStore) Confirm(_ context.Context, subject, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[subject]
	if !ok || s.now().After(entry.expiresAt) || entry.code != code {
		return ErrCodeMismatch
	}
	delete(s.codes, subject)
	return nil
}

// RedisStore keeps codes in Redis with a TTL, surviving process
// restarts and shared across instances.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed code store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context, subject string) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, verifyKey(subject), code, s.ttl).Err(); err != nil {
		return "", err
	}
	return code, nil
}

func (s *RedisStore) Confirm(ctx context.Context, subject, code string) error {
	stored, err := s.rdb.Get(ctx, verifyKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCodeMismatch
		}
		return err
	}
	if stored != code {
		return ErrCodeMismatch
	}
	s.rdb.Del(ctx, verifyKey(subject))
	return nil
}

func verifyKey(subject string) string { return fmt.Sprintf("verify-code:%s", subject) }

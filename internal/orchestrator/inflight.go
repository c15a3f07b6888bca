package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// InFlight is the set of slot signatures currently being generated.
// Acquire reports false when the signature is already held.
type InFlight interface {
	Acquire(ctx context.Context, signature string) (release func(), acquired bool, err error)
}

// MemoryInFlight is a process-local in-flight set.
type MemoryInFlight struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryInFlight() *MemoryInFlight {
	return &MemoryInFlight{held: make(map[string]struct{})}
}

func (m *MemoryInFlight) Acquire(_ context.Context, signature string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[signature]; ok {
		return nil, false, nil
	}
	m.held[signature] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, signature)
			m.mu.Unlock()
		})
	}, true, nil
}

// Len is the number of held signatures.
func (m *MemoryInFlight) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisInFlight shares the in-flight set across processes. Keys carry a TTL
// so a crashed holder cannot block a signature forever.
type RedisInFlight struct {
	client *redis.Client
	script *redis.Script
	prefix string
	ttl    time.Duration
}

func NewRedisInFlight(client *redis.Client, ttl time.Duration) *RedisInFlight {
	if client == nil {
		return nil
	}
	return &RedisInFlight{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: "promptforge:inflight:",
		ttl:    ttl,
	}
}

func (r *RedisInFlight) Acquire(ctx context.Context, signature string) (func(), bool, error) {
	if r == nil || r.client == nil {
		return nil, false, errors.New("inflight: redis client not configured")
	}
	if signature == "" {
		return nil, false, errors.New("inflight: empty signature")
	}
	if r.ttl <= 0 {
		return nil, false, errors.New("inflight: ttl must be positive")
	}

	key := r.prefix + signature
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// on failure the key still expires with its ttl
			_ = r.script.Run(releaseCtx, r.client, []string{key}, token).Err()
		})
	}, true, nil
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/cartsync/internal/cart"
)

// ErrNotFound is returned when a cart id is unknown.
var ErrNotFound = errors.New("cart not found")

// Record is what the backend persists per cart. GiftCardCodes holds the full
// codes; the cart itself only carries their masked form.
type Record struct {
	Cart          *cart.Cart `json:"cart"`
	GiftCardCodes []string   `json:"giftCardCodes,omitempty"`
}

func (r *Record) clone() *Record {
	return &Record{
		Cart:          r.Cart.Clone(),
		GiftCardCodes: append([]string(nil), r.GiftCardCodes...),
	}
}

// Repository stores cart records by id.
type Repository interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
}

// MemoryRepository keeps records in a map. Safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

// Get returns a copy of the record.
func (m *MemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// Put stores a copy of the record.
func (m *MemoryRepository) Put(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.Cart.ID] = r.clone()
	return nil
}

// Delete removes the record. Deleting an unknown id is not an error.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// DefaultCartTTL is the base expiry of carts stored in Redis.
const DefaultCartTTL = 15 * time.Minute

// RedisRepository stores records as JSON under cart:<id> with a jittered
// TTL, refreshed on every write.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository wraps a go-redis client. A zero ttl uses DefaultCartTTL.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func cartKey(id string) string {
	return fmt.Sprintf("cart:%s", id)
}

// Get loads and decodes the record.
func (r *RedisRepository) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, cartKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", id, err)
	}
	if rec.Cart == nil {
		return nil, fmt.Errorf("decode cart %s: record has no cart", id)
	}
	return &rec, nil
}

// Put encodes and stores the record.
func (r *RedisRepository) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", rec.Cart.ID, err)
	}
	if err := r.client.Set(ctx, cartKey(rec.Cart.ID), data, r.expiry()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes the record.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, cartKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// expiry spreads expirations over ttl + [0,5) minutes.
func (r *RedisRepository) expiry() time.Duration {
	return r.ttl + time.Duration(rand.Intn(5))*time.Minute
}

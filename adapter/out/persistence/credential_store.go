// Package persistence provides stores implementing outbound ports.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/cache"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/crypto"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
)

const credentialKeyPrefix = "email:credentials:"

// RedisCredentialStore persists credential bundles in Redis,
// encrypted at rest with AES-256-GCM.
type RedisCredentialStore struct {
	cache             *cache.RedisCache
	ttl               time.Duration
	encryptionEnabled bool
}

// NewRedisCredentialStore creates a Redis-backed store. Entries
// expire with ttl so abandoned sessions do not accumulate.
func NewRedisCredentialStore(c *cache.RedisCache, ttl time.Duration) *RedisCredentialStore {
	err := crypto.Init()
	encryptionEnabled := err == nil
	if !encryptionEnabled {
		logger.Warn("credential encryption disabled: %v", err)
	}

	return &RedisCredentialStore{
		cache:             c,
		ttl:               ttl,
		encryptionEnabled: encryptionEnabled,
	}
}

// Save writes the credential bundle for a session.
func (s *RedisCredentialStore) Save(ctx context.Context, sessionID string, creds *out.StoredCredentials) error {
	creds.UpdatedAt = time.Now()

	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	payload := string(data)
	if s.encryptionEnabled {
		payload, err = crypto.Encrypt(payload)
		if err != nil {
			return err
		}
	}

	return s.cache.Set(ctx, credentialKeyPrefix+sessionID, payload, s.ttl)
}

// Load reads the credential bundle for a session. A missing session
// returns (nil, nil).
func (s *RedisCredentialStore) Load(ctx context.Context, sessionID string) (*out.StoredCredentials, error) {
	payload, err := s.cache.Get(ctx, credentialKeyPrefix+sessionID)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if crypto.IsEncrypted(payload) {
		payload, err = crypto.Decrypt(payload)
		if err != nil {
			return nil, err
		}
	}

	var creds out.StoredCredentials
	if err := json.Unmarshal([]byte(payload), &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Delete removes the credential bundle for a session.
func (s *RedisCredentialStore) Delete(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, credentialKeyPrefix+sessionID)
}

// MemoryCredentialStore is the fallback store when Redis is not
// configured. Entries live until their TTL sweep.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	creds     *out.StoredCredentials
	expiresAt time.Time
}

// NewMemoryCredentialStore creates an in-memory store.
func NewMemoryCredentialStore(ttl time.Duration) *MemoryCredentialStore {
	return &MemoryCredentialStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

// Save writes the credential bundle for a session.
func (s *MemoryCredentialStore) Save(ctx context.Context, sessionID string, creds *out.StoredCredentials) error {
	creds.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = memoryEntry{
		creds:     creds,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Load reads the credential bundle for a session. Expired or missing
// sessions return (nil, nil).
func (s *MemoryCredentialStore) Load(ctx context.Context, sessionID string) (*out.StoredCredentials, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, sessionID)
		s.mu.Unlock()
		return nil, nil
	}
	return entry.creds, nil
}

// Delete removes the credential bundle for a session.
func (s *MemoryCredentialStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return nil
}

var (
	_ out.CredentialStore = (*RedisCredentialStore)(nil)
	_ out.CredentialStore = (*MemoryCredentialStore)(nil)
)

package secrets

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProviderType selects the secret backend
type ProviderType string

const (
	ProviderNone  ProviderType = ""
	ProviderVault ProviderType = "vault"
	ProviderAWS   ProviderType = "aws"
	ProviderGCP   ProviderType = "gcp"
	ProviderFile  ProviderType = "file"
)

// Secret is a resolved key/value payload
type Secret struct {
	Data      map[string]string
	Version   string
	FetchedAt time.Time
}

// Value returns a non-empty entry of the payload
func (s Secret) Value(key string) (string, bool) {
	v, ok := s.Data[key]
	return v, ok && v != ""
}

// Manager resolves secret references
type Manager interface {
	GetSecret(ctx context.Context, ref Reference) (Secret, error)
	GetString(ctx context.Context, ref Reference) (string, error)
	Close() error
}

type backend interface {
	Name() ProviderType
	Fetch(ctx context.Context, ref Reference) (Secret, error)
	Close() error
}

type cacheEntry struct {
	secret    Secret
	expiresAt time.Time
}

type manager struct {
	backend  backend
	cacheTTL time.Duration
	audit    bool
	now      func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager builds a Manager for the configured provider
func NewManager(ctx context.Context, cfg config.SecretsConfig) (Manager, error) {
	var (
		b   backend
		err error
	)

	switch ProviderType(cfg.Provider) {
	case ProviderNone:
		return nil, ErrProviderNotConfigured
	case ProviderVault:
		b, err = newVaultBackend(cfg)
	case ProviderAWS:
		b, err = newAWSBackend(ctx, cfg)
	case ProviderGCP:
		b, err = newGCPBackend(ctx, cfg)
	case ProviderFile:
		b, err = newFileBackend(cfg.FileBasePath)
	default:
		err = fmt.Errorf("secrets: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return newManager(b, cfg.CacheTTL, cfg.AuditEnabled), nil
}

func newManager(b backend, ttl time.Duration, audit bool) *manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &manager{
		backend:  b,
		cacheTTL: ttl,
		audit:    audit,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// GetSecret returns the whole payload, serving repeated lookups from cache.
// Concurrent misses for the same secret share one backend call.
func (m *manager) GetSecret(ctx context.Context, ref Reference) (Secret, error) {
	if ref.Path == "" {
		return Secret{}, ErrInvalidReference
	}
	if ref.Provider != ProviderNone && ref.Provider != m.backend.Name() {
		return Secret{}, fmt.Errorf("secrets: reference %q targets %q but manager uses %q", ref.Name, ref.Provider, m.backend.Name())
	}

	key := ref.cacheKey()
	if secret, ok := m.cached(key); ok {
		return secret, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		secret, err := m.backend.Fetch(ctx, ref)
		if err != nil {
			return Secret{}, err
		}
		secret.FetchedAt = m.now().UTC()
		m.store(key, secret)
		return secret, nil
	})
	m.log(ref, err)
	if err != nil {
		return Secret{}, err
	}
	return clone(v.(Secret)), nil
}

// GetString returns the single value ref.Key points at
func (m *manager) GetString(ctx context.Context, ref Reference) (string, error) {
	if ref.Key == "" {
		return "", fmt.Errorf("%w: reference %q has no key", ErrKeyNotFound, ref.Name)
	}
	secret, err := m.GetSecret(ctx, ref)
	if err != nil {
		return "", err
	}
	value, ok := secret.Value(ref.Key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, ref.Key)
	}
	return value, nil
}

func (m *manager) Close() error {
	return m.backend.Close()
}

func (m *manager) cached(key string) (Secret, bool) {
	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if !ok || m.now().After(entry.expiresAt) {
		return Secret{}, false
	}
	return clone(entry.secret), true
}

func (m *manager) store(key string, secret Secret) {
	m.mu.Lock()
	m.cache[key] = cacheEntry{secret: clone(secret), expiresAt: m.now().Add(m.cacheTTL)}
	m.mu.Unlock()
}

func (m *manager) log(ref Reference, err error) {
	if !m.audit {
		return
	}
	fields := []zap.Field{
		zap.String("secret_name", ref.Name),
		zap.String("secret_type", string(ref.Type)),
		zap.String("provider", string(m.backend.Name())),
	}
	if err != nil {
		logger.Warn("Secret fetch failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("Secret fetched", fields...)
}

func clone(s Secret) Secret {
	out := s
	out.Data = make(map[string]string, len(s.Data))
	maps.Copy(out.Data, s.Data)
	return out
}

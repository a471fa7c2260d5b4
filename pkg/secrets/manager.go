package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
)

// Backends
const (
	BackendEnv = "env"
	BackendAWS = "aws-secrets-manager"
)

// Source fetches a raw secret value by key
type Source interface {
	Fetch(ctx context.Context, key string) (string, error)
}

// Config holds secrets manager configuration
type Config struct {
	Backend       string        // "env" or "aws-secrets-manager"
	AWSRegion     string        // AWS region for Secrets Manager
	CacheDuration time.Duration // How long to cache secrets
}

// Manager caches secrets read from a Source
type Manager struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewManager creates a manager for the configured backend
func NewManager(cfg Config) (*Manager, error) {
	switch cfg.Backend {
	case BackendAWS, "aws":
		region := cfg.AWSRegion
		if region == "" {
			region = "us-east-1"
		}
		sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		log.Printf("🔐 Using AWS Secrets Manager (region: %s)", region)
		return NewManagerWithSource(AWSSource{Client: secretsmanager.New(sess)}, cfg.CacheDuration), nil
	case BackendEnv, "environment", "":
		return NewManagerWithSource(EnvSource{}, cfg.CacheDuration), nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// NewManagerWithSource creates a manager over any source
func NewManagerWithSource(source Source, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedSecret),
	}
}

// GetSecret retrieves a secret, served from cache while fresh
func (m *Manager) GetSecret(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	cached, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && m.now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	value, err := m.source.Fetch(ctx, key)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cache[key] = cachedSecret{value: value, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()

	return value, nil
}

// GetSecretJSON retrieves a secret and unmarshals it as JSON
func (m *Manager) GetSecretJSON(ctx context.Context, key string, dest interface{}) error {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("secret %s is not valid JSON: %w", key, err)
	}
	return nil
}

// RefreshCache drops every cached value
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]cachedSecret)
}

// EnvSource reads secrets from environment variables
type EnvSource struct{}

// Fetch implements Source
func (EnvSource) Fetch(_ context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return value, nil
}

// AWSSource reads secrets from AWS Secrets Manager
type AWSSource struct {
	Client secretsmanageriface.SecretsManagerAPI
}

// Fetch implements Source
func (s AWSSource) Fetch(ctx context.Context, key string) (string, error) {
	result, err := s.Client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", key)
	}
	return *result.SecretString, nil
}

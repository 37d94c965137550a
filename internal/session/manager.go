// Package session maps bearer tokens to per-session email orchestrators.
// Each session owns one emailops.Operations so concurrent clients never
// observe each other's provider configuration. Callers without a session
// token share a process-wide default orchestrator.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kamiwaza-drew/tool-email-mcp/config"
	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/port/out"
	"github.com/kamiwaza-drew/tool-email-mcp/core/service/emailops"
	"github.com/kamiwaza-drew/tool-email-mcp/core/service/security"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/logger"
)

type entry struct {
	ops       *emailops.Operations
	expiresAt time.Time
}

// Manager issues session tokens and tracks the orchestrator behind each
// one. Sessions expire after the configured TTL; a background sweep
// drops expired entries, and a later request holding a still-valid
// token rehydrates its provider from the credential store.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	defaultOps *emailops.Operations

	factory  out.ProviderFactory
	security *security.Manager
	store    out.CredentialStore
	opsCfg   emailops.Config
	secret   []byte
	ttl      time.Duration
	log      *logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewManager(cfg *config.Config, factory out.ProviderFactory, sec *security.Manager, store out.CredentialStore, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err == nil {
			secret = []byte(hex.EncodeToString(buf))
		}
		log.Warn("SESSION_SECRET not set, generated ephemeral secret; session tokens will not survive restarts")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	opsCfg := emailops.Config{
		MaxRecipients: cfg.MaxRecipients,
		MaxPageSize:   cfg.MaxPageSize,
		CallTimeout:   time.Duration(cfg.ProviderTimeoutSec) * time.Second,
	}

	return &Manager{
		sessions:   make(map[string]*entry),
		defaultOps: emailops.New(factory, sec, opsCfg, log),
		factory:    factory,
		security:   sec,
		store:      store,
		opsCfg:     opsCfg,
		secret:     secret,
		ttl:        ttl,
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Default returns the shared orchestrator used when no session token is
// presented.
func (m *Manager) Default() *emailops.Operations {
	return m.defaultOps
}

// Connect creates a new session, configures its provider, and persists
// the credentials so the session survives process restarts. It returns
// the session ID, a signed bearer token, and the configure payload.
func (m *Manager) Connect(ctx context.Context, providerType string, creds domain.Credentials) (string, string, *emailops.ConfigureResult, error) {
	sessionID := uuid.New().String()
	ops := emailops.New(m.factory, m.security, m.opsCfg, m.log)

	result, err := ops.ConfigureProvider(ctx, providerType, creds)
	if err != nil {
		return "", "", nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = &entry{ops: ops, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	if m.store != nil {
		stored := &out.StoredCredentials{
			Provider:    ops.ActiveProvider(),
			Credentials: creds,
		}
		if err := m.store.Save(ctx, sessionID, stored); err != nil {
			m.log.WithError(err).Warn("failed to persist session credentials: %s", sessionID)
		}
	}

	token, err := m.issueToken(sessionID)
	if err != nil {
		return "", "", nil, apperr.New(apperr.CodeInternalError, "failed to issue session token", 500)
	}

	m.log.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"provider":   result.Provider,
	}).Info("session connected")

	return sessionID, token, result, nil
}

// Resolve parses a bearer token and returns the orchestrator bound to
// its session, rehydrating the provider from stored credentials when
// the in-memory entry has been swept.
func (m *Manager) Resolve(ctx context.Context, token string) (string, *emailops.Operations, error) {
	sessionID, err := m.parseToken(token)
	if err != nil {
		return "", nil, err
	}

	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		m.touch(sessionID)
		return sessionID, e.ops, nil
	}

	ops, err := m.rehydrate(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	return sessionID, ops, nil
}

// Logout drops the session and its stored credentials.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	m.log.WithField("session_id", sessionID).Info("session logged out")
	return nil
}

// SessionCount reports live (unexpired) sessions, for readiness and
// status endpoints.
func (m *Manager) SessionCount() int {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.sessions {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Start launches the expiry sweep. Stop terminates it.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	for id, e := range m.sessions {
		if now.After(e.expiresAt) {
			delete(m.sessions, id)
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()
	m.log.Debug("session sweep complete, %d live sessions", remaining)
}

func (m *Manager) touch(sessionID string) {
	m.mu.Lock()
	if e, ok := m.sessions[sessionID]; ok {
		e.expiresAt = time.Now().Add(m.ttl)
	}
	m.mu.Unlock()
}

func (m *Manager) rehydrate(ctx context.Context, sessionID string) (*emailops.Operations, error) {
	if m.store == nil {
		return nil, apperr.New(apperr.CodeTokenExpired, "session expired", 401)
	}

	stored, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, apperr.DependencyUnavailable("credential store", err)
	}
	if stored == nil {
		return nil, apperr.New(apperr.CodeTokenExpired, "session expired", 401)
	}

	ops := emailops.New(m.factory, m.security, m.opsCfg, m.log)
	if _, err := ops.ConfigureProvider(ctx, string(stored.Provider), stored.Credentials); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = &entry{ops: ops, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	m.log.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"provider":   string(stored.Provider),
	}).Info("session rehydrated from credential store")
	return ops, nil
}

func (m *Manager) issueToken(sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sessionID,
		"jti": uuid.New().String(),
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.New(apperr.CodeInvalidToken, "invalid session token", 401)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", apperr.New(apperr.CodeInvalidToken, "invalid session token", 401)
	}
	sessionID, _ := claims["sub"].(string)
	if sessionID == "" {
		return "", apperr.New(apperr.CodeInvalidToken, "invalid session token", 401)
	}
	return sessionID, nil
}

// ConfigureFromEnv configures the default orchestrator from the
// environment at startup. Broker settings take precedence; IMAP
// settings are the fallback. Missing settings leave the default
// orchestrator unconfigured, which is not an error.
func (m *Manager) ConfigureFromEnv(ctx context.Context, cfg *config.Config) {
	if cfg.BrokerURL != "" && cfg.BrokerAuthToken != "" {
		creds := domain.Credentials{
			"auth_token_or_file": cfg.BrokerAuthToken,
			"broker_url":         cfg.BrokerURL,
			"installation_id":    cfg.BrokerInstallationID,
			"tool_id":            cfg.BrokerToolID,
		}
		if _, err := m.defaultOps.ConfigureProvider(ctx, string(domain.ProviderBroker), creds); err != nil {
			m.log.WithError(err).Warn("broker auto-configuration failed")
		} else {
			m.log.Info("default provider auto-configured from broker environment")
			return
		}
	}

	if cfg.IMAPHost != "" && cfg.IMAPUsername != "" && cfg.IMAPPassword != "" {
		creds := domain.Credentials{
			"username":  cfg.IMAPUsername,
			"password":  cfg.IMAPPassword,
			"host":      cfg.IMAPHost,
			"port":      cfg.IMAPPort,
			"smtp_host": cfg.SMTPHost,
			"smtp_port": cfg.SMTPPort,
			"use_ssl":   fmt.Sprintf("%t", cfg.IMAPUseSSL),
		}
		if creds["smtp_host"] == "" {
			creds["smtp_host"] = strings.Replace(cfg.IMAPHost, "imap.", "smtp.", 1)
		}
		if _, err := m.defaultOps.ConfigureProvider(ctx, string(domain.ProviderIMAP), creds); err != nil {
			m.log.WithError(err).Warn("IMAP auto-configuration failed")
		} else {
			m.log.Info("default provider auto-configured from IMAP environment")
		}
	}
}

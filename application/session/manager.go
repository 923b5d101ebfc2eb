package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/application/syncengine"
	"communitysync/domain/config"
	"communitysync/pkg/errors"
)

// ErrTokenNotRefreshable is returned when the remote API rejects a
// forwarded token; only the viewer can obtain a new one.
var ErrTokenNotRefreshable = stderrors.New("forwarded token cannot be refreshed")

// ClientFactory builds the remote API client of one session
type ClientFactory func(tokens ports.TokenSource) ports.RemoteAPI

// Session pairs a coordinator with the viewer it was opened for.
type Session struct {
	ID        string    `json:"id"`
	ViewerID  string    `json:"viewerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	Coordinator *syncengine.Coordinator `json:"-"`
	tokens      *forwardedToken
}

// Anonymous reports whether the session has no viewer
func (s *Session) Anonymous() bool { return s.ViewerID == "" }

// SetToken replaces the bearer token forwarded to the remote API, usually
// with the one presented on the current gateway request.
func (s *Session) SetToken(token string) {
	s.tokens.set(token)
}

// forwardedToken is the session's TokenSource
type forwardedToken struct {
	mu    sync.RWMutex
	token string
}

func (f *forwardedToken) set(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *forwardedToken) Token(ctx context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token, nil
}

func (f *forwardedToken) Refresh(ctx context.Context) (string, error) {
	return "", ErrTokenNotRefreshable
}

// Manager opens sessions and keeps them in a TTL cache. Each access
// extends the session's lifetime.
type Manager struct {
	cfg       *config.DomainConfig
	cache     ports.Cache
	newClient ClientFactory
	publisher ports.EventPublisher
	snapshots ports.SnapshotStore
	metrics   ports.MetricsRecorder
	ttl       time.Duration
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithPublisher forwards every session's events to p
func WithPublisher(p ports.EventPublisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithSnapshots persists reaction baselines across sessions
func WithSnapshots(s ports.SnapshotStore) ManagerOption {
	return func(m *Manager) { m.snapshots = s }
}

// WithMetrics records sync outcomes of every session
func WithMetrics(r ports.MetricsRecorder) ManagerOption {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a session manager. Sessions idle for cfg.SessionTimeout
// expire.
func NewManager(cfg *config.DomainConfig, cache ports.Cache, newClient ClientFactory, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		cache:     cache,
		newClient: newClient,
		ttl:       cfg.SessionTimeout,
		logger:    logger.With(zap.String("component", "session_manager")),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a session for viewerID, "" for anonymous, forwarding token
// to the remote API. Persisted reaction baselines are seeded when enabled;
// a seeding failure only costs the baseline.
func (m *Manager) Open(ctx context.Context, viewerID, token string) (*Session, error) {
	tokens := &forwardedToken{token: token}
	sess := &Session{
		ID:        m.newID(),
		ViewerID:  viewerID,
		CreatedAt: m.now(),
		tokens:    tokens,
	}

	opts := []syncengine.Option{syncengine.WithSession(sess.ID, viewerID)}
	if m.publisher != nil {
		opts = append(opts, syncengine.WithEventPublisher(m.publisher))
	}
	if m.snapshots != nil {
		opts = append(opts, syncengine.WithSnapshotStore(m.snapshots))
	}
	if m.metrics != nil {
		opts = append(opts, syncengine.WithMetrics(m.metrics))
	}
	sess.Coordinator = syncengine.NewCoordinator(m.cfg, m.newClient(tokens), m.logger, opts...)

	if m.cfg.SeedBaselineOnSession && !sess.Anonymous() {
		if err := sess.Coordinator.SeedBaselines(ctx); err != nil {
			m.logger.Warn("Failed to seed reaction baselines",
				zap.String("sessionID", sess.ID),
				zap.String("viewerID", viewerID),
				zap.Error(err),
			)
		}
	}

	if err := m.cache.Set(ctx, sess.ID, sess, m.ttlSeconds()); err != nil {
		return nil, err
	}
	m.logger.Info("Session opened",
		zap.String("sessionID", sess.ID),
		zap.Bool("anonymous", sess.Anonymous()),
	)
	return sess, nil
}

// Get returns a live session and extends its lifetime
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.SessionNotFound(sessionID)
	}
	v, ok := m.cache.Get(ctx, sessionID)
	if !ok {
		return nil, errors.SessionNotFound(sessionID)
	}
	sess, ok := v.(*Session)
	if !ok {
		return nil, errors.SessionNotFound(sessionID)
	}
	if err := m.cache.Set(ctx, sessionID, sess, m.ttlSeconds()); err != nil {
		m.logger.Warn("Failed to extend session", zap.String("sessionID", sessionID), zap.Error(err))
	}
	return sess, nil
}

// Close ends a session
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	if _, err := m.Get(ctx, sessionID); err != nil {
		return err
	}
	return m.cache.Delete(ctx, sessionID)
}

func (m *Manager) ttlSeconds() int {
	secs := int(m.ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

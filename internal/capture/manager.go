package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/ashureev/interview-coach/internal/persist"
)

// End reasons recorded by the manager.
const (
	ReasonUser      = "user"
	ReasonReplaced  = "replaced"
	ReasonUnmounted = "unmounted"
	ReasonIdle      = "idle_timeout"
	ReasonLogout    = "logout"
	ReasonShutdown  = "shutdown"
)

// SubmitterFunc picks the persistence collaborator for a caller.
type SubmitterFunc func(sc identity.SessionContext) persist.Submitter

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Interval     time.Duration
	Acquirer     Acquirer
	Classifier   Classifier
	SubmitterFor SubmitterFunc
	Logger       *slog.Logger
}

type entry struct {
	ctrl     *Controller
	userID   string
	lastSeen time.Time
}

// Manager keeps one controller per session key.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	now    func() time.Time

	// baseCtx outlives requests; controllers start under it.
	baseCtx context.Context

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewManager creates a manager whose controllers start under ctx.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		baseCtx:  ctx,
		sessions: make(map[string]*entry),
	}
}

// Begin creates a controller for sc and starts acquisition in the
// background. An existing controller in the same slot is ended first.
func (m *Manager) Begin(sc identity.SessionContext, params domain.SessionParams) (*Controller, error) {
	key := sc.Key()
	ctrl, err := NewController(Config{
		Key:        key,
		Params:     params,
		Interval:   m.cfg.Interval,
		Acquirer:   m.cfg.Acquirer,
		Classifier: m.cfg.Classifier,
		Submitter:  m.cfg.SubmitterFor(sc),
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.sessions[key]
	m.sessions[key] = &entry{ctrl: ctrl, userID: sc.UserID, lastSeen: m.now()}
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("Replacing capture session", "key", key, "old", old.ctrl.ID(), "new", ctrl.ID())
		// The replaced attempt may still be Acquiring and waiting on the
		// same camera slot, so it must be ended before the new one starts.
		if _, err := old.ctrl.End(m.baseCtx, ReasonReplaced); err != nil {
			m.logger.Warn("Failed to end replaced session", "error", err, "key", key)
		}
	}

	go func() {
		if err := ctrl.Start(m.baseCtx); err != nil {
			m.logger.Info("Capture session did not start", "key", key, "session", ctrl.ID(), "error", err)
		}
	}()
	return ctrl, nil
}

// Get returns the controller in the slot for key.
func (m *Manager) Get(key string) *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.sessions[key]; ok {
		return e.ctrl
	}
	return nil
}

// Touch records that the session for key is still alive.
func (m *Manager) Touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[key]; ok {
		e.lastSeen = m.now()
	}
}

// End ends the controller for key and keeps it in its slot so its result
// stays readable.
func (m *Manager) End(ctx context.Context, key, reason string) (EndResult, bool, error) {
	ctrl := m.Get(key)
	if ctrl == nil {
		return EndResult{}, false, nil
	}
	r, err := ctrl.End(ctx, reason)
	return r, true, err
}

// Remove ends the controller for key and frees the slot.
func (m *Manager) Remove(ctx context.Context, key, reason string) (EndResult, bool, error) {
	m.mu.Lock()
	e, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return EndResult{}, false, nil
	}
	r, err := e.ctrl.End(ctx, reason)
	return r, true, err
}

// EndAllForUser ends and removes every controller owned by userID.
func (m *Manager) EndAllForUser(ctx context.Context, userID, reason string) int {
	m.mu.Lock()
	var victims []*entry
	for key, e := range m.sessions {
		if e.userID == userID {
			victims = append(victims, e)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	m.endAll(ctx, victims, reason)
	return len(victims)
}

// Shutdown ends every controller.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	victims := make([]*entry, 0, len(m.sessions))
	for key, e := range m.sessions {
		victims = append(victims, e)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	m.endAll(ctx, victims, ReasonShutdown)
}

func (m *Manager) endAll(ctx context.Context, victims []*entry, reason string) {
	var wg sync.WaitGroup
	for _, e := range victims {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if _, err := e.ctrl.End(ctx, reason); err != nil {
				m.logger.Warn("Failed to end capture session", "error", err, "key", e.ctrl.Key(), "reason", reason)
			}
		}(e)
	}
	wg.Wait()
}

// Len returns the number of occupied slots.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

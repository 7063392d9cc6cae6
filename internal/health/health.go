// Package health aggregates dependency checks behind /healthz and /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Status of one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Critical  bool          `json:"critical"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

const checkTimeout = 5 * time.Second

// Manager runs registered checkers on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

// NewManager builds an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check runs every checker and reports the aggregate. Ready is false when
// any critical dependency fails.
func (m *Manager) Check(ctx context.Context) (bool, []CheckResult) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	ready := true
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.Check(checkCtx)
		cancel()

		res := CheckResult{
			Component: c.Name(),
			Status:    StatusHealthy,
			Critical:  c.Critical(),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			res.Status = StatusUnhealthy
			res.Error = err.Error()
			if c.Critical() {
				ready = false
			}
			m.logger.Warn("health check failed",
				zap.String("component", c.Name()),
				zap.Error(err),
			)
		}
		results = append(results, res)
	}
	return ready, results
}

// RegisterRoutes serves liveness on /healthz and readiness on /readyz.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ready, results := m.Check(r.Context())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":  ready,
			"checks": results,
		})
	})
}

// RedisChecker pings Redis. Non-critical: runs degrade to in-process
// event fan-out without it.
type RedisChecker struct {
	Client redis.UniversalClient
}

func (RedisChecker) Name() string                      { return "redis" }
func (RedisChecker) Critical() bool                    { return false }
func (c RedisChecker) Check(ctx context.Context) error { return c.Client.Ping(ctx).Err() }

// DatabaseChecker pings the checkpoint store.
type DatabaseChecker struct {
	DB *sqlx.DB
}

func (DatabaseChecker) Name() string                      { return "database" }
func (DatabaseChecker) Critical() bool                    { return false }
func (c DatabaseChecker) Check(ctx context.Context) error { return c.DB.PingContext(ctx) }

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	ComponentName string
	IsCritical    bool
	Fn            func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.ComponentName }
func (c CheckerFunc) Critical() bool                  { return c.IsCritical }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sastabazar-be/internal/utils"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

type Checker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// Pinger is satisfied by *sql.DB and the Redis idempotency store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

type pingChecker struct {
	name     string
	ping     PingFunc
	critical bool
}

// NewDBChecker reports unhealthy when Postgres is unreachable.
func NewDBChecker(db Pinger) Checker {
	return &pingChecker{name: "postgres", ping: db.PingContext, critical: true}
}

// NewRedisChecker only degrades: order creation still works without idempotency keys cached.
func NewRedisChecker(ping PingFunc) Checker {
	return &pingChecker{name: "redis", ping: ping}
}

func (c *pingChecker) Name() string { return c.name }

func (c *pingChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := c.ping(ctx)
	latency := time.Since(start)

	if err == nil {
		return ComponentHealth{Status: StatusHealthy, Latency: latency.String()}
	}

	status := StatusDegraded
	if c.critical {
		status = StatusUnhealthy
	}
	return ComponentHealth{
		Status:  status,
		Message: fmt.Sprintf("%s ping failed: %v", c.name, err),
		Latency: latency.String(),
	}
}

// LiveHandler answers "OK" whenever the process is serving.
func LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadyHandler runs every checker and fails with 503 if any critical one is down.
func ReadyHandler(checkers ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := Response{
			Status:     StatusHealthy,
			Timestamp:  time.Now().UTC(),
			Components: make(map[string]ComponentHealth, len(checkers)),
		}

		for _, c := range checkers {
			h := c.Check(ctx)
			resp.Components[c.Name()] = h

			if h.Status == StatusUnhealthy {
				resp.Status = StatusUnhealthy
			} else if h.Status == StatusDegraded && resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}

		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		utils.WriteJSON(w, code, resp)
	}
}

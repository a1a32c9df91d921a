package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// Health is the database health report served on /health/db. It carries pool
// occupancy so operators can spot exhaustion before requests start timing
// out; the PHI store being unreachable is a page-worthy condition.
type Health struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Total    int32  `json:"total_conns"`
	Idle     int32  `json:"idle_conns"`
	Acquired int32  `json:"acquired_conns"`
	Max      int32  `json:"max_conns"`
}

// Healthy reports whether the database is reachable.
func (h *Health) Healthy() bool {
	return h.Status == "up"
}

// CheckHealth pings the database and collects pool occupancy.
func CheckHealth(ctx context.Context, pool *pgxpool.Pool) *Health {
	stat := pool.Stat()
	h := &Health{
		Status:   "up",
		Total:    stat.TotalConns(),
		Idle:     stat.IdleConns(),
		Acquired: stat.AcquiredConns(),
		Max:      stat.MaxConns(),
	}
	if err := pool.Ping(ctx); err != nil {
		h.Status = "down"
		h.Error = err.Error()
	}
	return h
}

// HealthHandler serves the database health report, 503 when unreachable.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		h := CheckHealth(ctx, pool)
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, h)
	}
}

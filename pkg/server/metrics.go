package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime WebSocket connections accepted
	ActiveConnections atomic.Int64 // current open WebSocket connections
	FailedAuths       atomic.Int64
	SuccessfulAuths   atomic.Int64
	TotalDisconnects  atomic.Int64

	// Message counters
	MessagesIn    atomic.Int64 // frames received from clients
	MessageErrors atomic.Int64 // error replies sent

	// Broadcast counters
	BroadcastsSent    atomic.Int64 // per-peer deliveries
	BroadcastFailures atomic.Int64 // per-peer delivery failures

	// Todo counters
	TodosCreated atomic.Int64
	TodosUpdated atomic.Int64
	TodosDeleted atomic.Int64

	// Account counters
	UsersRegistered atomic.Int64
	HTTPRequests    atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time, serializable view of Metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	MessagesIn    int64 `json:"messages_in"`
	MessageErrors int64 `json:"message_errors"`

	BroadcastsSent    int64 `json:"broadcasts_sent"`
	BroadcastFailures int64 `json:"broadcast_failures"`

	TodosCreated int64 `json:"todos_created"`
	TodosUpdated int64 `json:"todos_updated"`
	TodosDeleted int64 `json:"todos_deleted"`

	UsersRegistered int64 `json:"users_registered"`
	HTTPRequests    int64 `json:"http_requests"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		MessagesIn:        m.MessagesIn.Load(),
		MessageErrors:     m.MessageErrors.Load(),
		BroadcastsSent:    m.BroadcastsSent.Load(),
		BroadcastFailures: m.BroadcastFailures.Load(),
		TodosCreated:      m.TodosCreated.Load(),
		TodosUpdated:      m.TodosUpdated.Load(),
		TodosDeleted:      m.TodosDeleted.Load(),
		UsersRegistered:   m.UsersRegistered.Load(),
		HTTPRequests:      m.HTTPRequests.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary line.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"messages_in", s.MessagesIn,
		"broadcasts", s.BroadcastsSent,
		"broadcast_failures", s.BroadcastFailures,
		"todos_created", s.TodosCreated,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed. A non-positive interval
// disables it.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

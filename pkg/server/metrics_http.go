package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/NicolasHaas/gotodo/pkg/version"
)

// handleMetrics writes all metrics in Prometheus text exposition format,
// or as a JSON snapshot with ?format=json.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintln(w, m.JSON())
		return
	}
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP gotodo_build_info Build information.\n# TYPE gotodo_build_info gauge\n")
	_, _ = fmt.Fprintf(w, "gotodo_build_info{version=%q,commit=%q} 1\n", version.String(), version.Commit())

	_, _ = fmt.Fprintf(w, "# HELP gotodo_uptime_seconds Server uptime in seconds.\n# TYPE gotodo_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "gotodo_uptime_seconds %f\n", uptime)

	write("gotodo_connections_active", "Current open WebSocket connections.", "gauge",
		m.ActiveConnections.Load())
	write("gotodo_connections_total", "Lifetime WebSocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gotodo_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())
	write("gotodo_registered_users", "Users with at least one authenticated connection.", "gauge",
		int64(s.registry.UserCount()))

	write("gotodo_auth_success_total", "Successful authentication attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("gotodo_auth_failed_total", "Failed authentication attempts.", "counter",
		m.FailedAuths.Load())

	write("gotodo_messages_in_total", "WebSocket messages received.", "counter",
		m.MessagesIn.Load())
	write("gotodo_message_errors_total", "Error replies sent.", "counter",
		m.MessageErrors.Load())

	write("gotodo_broadcasts_total", "Broadcast deliveries to peers.", "counter",
		m.BroadcastsSent.Load())
	write("gotodo_broadcast_failures_total", "Broadcast deliveries that failed.", "counter",
		m.BroadcastFailures.Load())

	write("gotodo_todos_created_total", "Todos created.", "counter",
		m.TodosCreated.Load())
	write("gotodo_todos_updated_total", "Todos updated.", "counter",
		m.TodosUpdated.Load())
	write("gotodo_todos_deleted_total", "Todos deleted.", "counter",
		m.TodosDeleted.Load())

	write("gotodo_users_registered_total", "Accounts registered.", "counter",
		m.UsersRegistered.Load())
	write("gotodo_http_requests_total", "REST API requests served.", "counter",
		m.HTTPRequests.Load())
}

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/OmidH/llm-to-matrix/pkg/conversation"
)

func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/v1/history", d.handleHistory)
	mux.HandleFunc("/v1/events", d.handleEvents)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if d.isHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","uptime":"%s"}`, time.Since(d.startedAt).Round(time.Second))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"starting"}`)
	}
}

// historyResponse is the JSON response for /v1/history.
type historyResponse struct {
	Entries []historyEntry `json:"entries"`
	Sender  string         `json:"sender,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Count   int            `json:"count"`
}

// historyEntry is a single conversation entry in the history response.
type historyEntry struct {
	ID        int64   `json:"id"`
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Sender    string  `json:"sender"`
	Kind      string  `json:"kind"`
	Model     *string `json:"model,omitempty"`
	Prompt    *string `json:"prompt,omitempty"`
	EventID   *string `json:"event_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// handleHistory serves recent conversation entries.
// Query params:
//   - sender: filter by sender id
//   - kind: filter by message kind (default, custom, code, link)
//   - limit: max results (default 5, at most 100)
//
// At least one of sender or kind is required.
func (d *Daemon) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := conversation.Query{Sender: r.URL.Query().Get("sender")}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := conversation.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Kind = kind
	}
	q.Limit = parseLimit(r.URL.Query().Get("limit"), conversation.DefaultLimit)

	entries, err := d.log.Recent(r.Context(), q)
	if err != nil {
		var verr *conversation.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := historyResponse{
		Entries: make([]historyEntry, 0, len(entries)),
		Sender:  q.Sender,
		Kind:    string(q.Kind),
		Count:   len(entries),
	}
	for _, e := range entries {
		result.Entries = append(result.Entries, historyEntry{
			ID:        e.ID,
			Role:      string(e.Role),
			Content:   e.Content,
			Sender:    e.Sender,
			Kind:      string(e.Kind),
			Model:     e.Model,
			Prompt:    e.Prompt,
			EventID:   e.EventID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, result)
}

// handleEvents serves the most recent command lifecycle events.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events := d.events.Recent(parseLimit(r.URL.Query().Get("limit"), 50))
	writeJSON(w, map[string]any{"events": events, "count": len(events)})
}

func parseLimit(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 && parsed <= 100 {
		return parsed
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("failed to encode API response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/csv2json/internal/core"
	"github.com/JonMunkholm/csv2json/internal/logging"
	"github.com/go-chi/chi/v5"
)

// HistoryResponse is the reply of /api/history.
type HistoryResponse struct {
	Enabled bool                `json:"enabled"`
	Entries []core.HistoryEntry `json:"entries"`
}

// handleConversionProgress streams progress via Server-Sent Events. Each
// update is a "progress" event; a final "complete" event carries the status
// once the conversion has finished.
func (s *Server) handleConversionProgress(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")

	conv, err := s.service.Conversion(convID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	progressCh, err := s.service.SubscribeProgress(convID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	logger := logging.WithFields(r.Context(), "conversion_id", convID)

	send := func(event string, id int, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			logger.Error("sse encode error", "error", err)
			return false
		}
		if id >= 0 {
			_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
		} else {
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.Debug("sse client gone", "error", err)
			return false
		}
		return true
	}

	// The event ID is the progress percentage.
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				send("complete", -1, conv.Snapshot())
				return
			}
			if !send("progress", progress.Percent(), progress) {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleConversionStatus returns the conversion status as JSON.
func (s *Server) handleConversionStatus(w http.ResponseWriter, r *http.Request) {
	conv, err := s.service.Conversion(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, conv.Snapshot())
}

// handleDownload streams the full JSON document as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	conv, err := s.service.Conversion(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	switch conv.Status() {
	case core.StatusRunning:
		s.respondError(w, r, core.ErrConversionRunning, http.StatusConflict)
		return
	case core.StatusFailed:
		s.respondError(w, r, conv.Err(), statusFor(conv.Err()))
		return
	}

	artifact := conv.Artifact()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, artifact.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(artifact.Size()))
	if _, err := w.Write(artifact.Text); err != nil {
		logging.FromContext(r.Context()).Debug("download aborted", "error", err)
	}
}

// handleHistory returns recent conversion log entries.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	resp := HistoryResponse{Enabled: s.service.HistoryEnabled(), Entries: []core.HistoryEntry{}}
	if !resp.Enabled {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	limit := parseIntParam(r, "limit", s.cfg.History.ListLimit)
	if limit > s.cfg.History.ListLimit {
		limit = s.cfg.History.ListLimit
	}

	entries, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("load history: %w", err), http.StatusInternalServerError)
		return
	}
	if entries != nil {
		resp.Entries = entries
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLimiterStatus returns conversion slot usage.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// handleHealth reports liveness with session and slot counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.service.SessionCount(),
		"limiter":  s.service.LimiterStatus(),
	})
}

// parseIntParam reads a positive integer query parameter.
func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lexcite/corpuscore/internal/model"
	"github.com/lexcite/corpuscore/internal/retrieval"
	"github.com/lexcite/corpuscore/internal/storage"
)

// Handlers holds the dependencies behind each route.
type Handlers struct {
	db     *storage.DB
	query  QueryService
	search SearchService
	replay ReplayService
	logger *slog.Logger

	maxRequestBodyBytes int64
	version             string
}

func (h *Handlers) decodeQueryRequest(w http.ResponseWriter, r *http.Request) (model.QueryRequest, bool) {
	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return model.QueryRequest{}, false
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return model.QueryRequest{}, false
	}
	if len(req.Question) > model.MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "question exceeds maximum length")
		return model.QueryRequest{}, false
	}
	return req, true
}

// HandleQuery serves POST /query: a single non-streaming grounded answer.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQueryRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.query.Query(r.Context(), req)
	if err != nil {
		writeInternalError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChat serves POST /chat: conversational variant of /query, identical
// response shape, distinguished only so a client can route chat turns
// through a conversation-aware caller without re-parsing /query semantics.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.HandleQuery(w, r)
}

// HandleChatStream serves POST /chat/stream: newline-delimited JSON
// StreamEvent objects, flushed as they are produced.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	emit := func(ev model.StreamEvent) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := h.query.Stream(r.Context(), req, emit); err != nil {
		h.logger.Error("stream_error", "error", err, "request_id", RequestIDFromContext(r.Context()))
		_ = emit(model.StreamEvent{Type: "error"})
	}
}

// HandleSearch serves GET /search?q=...&mode=all|parties&limit=n.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	mode := model.SearchMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = model.SearchModeAll
	}
	if mode != model.SearchModeAll && mode != model.SearchModeParties {
		writeError(w, http.StatusBadRequest, "mode must be 'all' or 'parties'")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	resp, err := h.search.Search(r.Context(), q, mode, limit)
	if err != nil {
		writeInternalError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAdvancedSearch serves GET /advanced-search?q=...&author=...&forum=...
// &exclude_r36=true&limit=n&cursor=....
func (h *Handlers) HandleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	excludeR36 := false
	if raw := r.URL.Query().Get("exclude_r36"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "exclude_r36 must be a boolean")
			return
		}
		excludeR36 = b
	}

	resp, err := h.search.AdvancedSearch(r.Context(), retrieval.AdvancedSearchParams{
		Query:      q,
		Author:     r.URL.Query().Get("author"),
		Forum:      model.Court(r.URL.Query().Get("forum")),
		ExcludeR36: excludeR36,
		Limit:      limit,
		Cursor:     r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeInternalError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePDF serves GET /pdf/{opinion_id}, redirecting to the opinion's
// archived PDF, or a typed fallback when none is archived.
func (h *Handlers) HandlePDF(w http.ResponseWriter, r *http.Request) {
	opinionID := r.PathValue("opinion_id")
	url, err := h.db.OpinionPDFURL(r.Context(), opinionID)
	switch {
	case err == nil && url != "":
		http.Redirect(w, r, url, http.StatusFound)
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, model.APIError{
			Error:  "opinion not found",
			Status: "not_found",
		})
	case err == nil:
		writeJSON(w, http.StatusNotFound, model.APIError{
			Error:       "no archived pdf for this opinion",
			Status:      "no_pdf",
			FallbackURL: "https://cafc.uscourts.gov/home/case-information/opinions-orders/",
		})
	default:
		writeInternalError(w, h.logger, r, err)
	}
}

// HandleReplayPacket serves GET /replay-packet/{run_id}.
func (h *Handlers) HandleReplayPacket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	packet, err := h.replay.ReplayPacket(r.Context(), runID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, packet)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "query run not found")
	default:
		writeInternalError(w, h.logger, r, err)
	}
}

// HandleHealthz reports liveness: the process is up and the database pool
// accepts a ping.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// HandleMetrics is a placeholder scrape endpoint; metrics are exported via
// OTLP push (see internal/telemetry), not pulled here. Kept so a load
// balancer health check pointed at /metrics gets a 200 instead of a 404.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

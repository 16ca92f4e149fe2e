package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"voicestats/internal/stats"
)

// Ranker computes rankings.
type Ranker interface {
	ComputeRanking(ctx context.Context, q stats.RankingQuery) (*stats.RankingResult, error)
}

// TimelineBuilder reconstructs timelines.
type TimelineBuilder interface {
	BuildTimeline(ctx context.Context, q stats.TimelineQuery) (*stats.Timeline, error)
}

// Summarizer produces period summaries.
type Summarizer interface {
	Summaries(ctx context.Context, q stats.SummariesQuery) (*stats.SummariesResult, error)
}

// Handlers holds dependencies for the statistics endpoints.
type Handlers struct {
	ranker    Ranker
	timelines TimelineBuilder
	summaries Summarizer
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandlers creates the handlers. loc is the organizational timezone used
// to interpret calendar dates.
func NewHandlers(ranker Ranker, timelines TimelineBuilder, summaries Summarizer, loc *time.Location, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ranker:    ranker,
		timelines: timelines,
		summaries: summaries,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// Register mounts the endpoints on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/servers/{serverID}/rankings", h.GetRanking)
	mux.HandleFunc("GET /api/servers/{serverID}/timeline", h.GetTimeline)
	mux.HandleFunc("GET /api/servers/{serverID}/summaries", h.GetSummaries)
}

// GetRanking handles GET /api/servers/{serverID}/rankings?metric=&from=&to=&limit=&compare=
func (h *Handlers) GetRanking(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, ok := intParam(w, params, "limit")
	if !ok {
		return
	}
	compare, ok := boolParam(w, params, "compare")
	if !ok {
		return
	}

	q, err := stats.RankingRequest{
		ServerID: r.PathValue("serverID"),
		Metric:   params.Get("metric"),
		From:     params.Get("from"),
		To:       params.Get("to"),
		Limit:    limit,
		Compare:  compare,
	}.Query(h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.ranker.ComputeRanking(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetTimeline handles GET /api/servers/{serverID}/timeline?from=&to=
func (h *Handlers) GetTimeline(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, err := stats.TimelineRequest{
		ServerID: r.PathValue("serverID"),
		From:     params.Get("from"),
		To:       params.Get("to"),
	}.Query()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	timeline, err := h.timelines.BuildTimeline(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

// GetSummaries handles GET /api/servers/{serverID}/summaries?type=&from=&to=&limit=&offset=
func (h *Handlers) GetSummaries(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, ok := intParam(w, params, "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, params, "offset")
	if !ok {
		return
	}

	q, err := stats.SummariesRequest{
		ServerID: r.PathValue("serverID"),
		Type:     params.Get("type"),
		From:     params.Get("from"),
		To:       params.Get("to"),
		Limit:    limit,
		Offset:   offset,
	}.Query(h.loc, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.summaries.Summaries(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *stats.ValidationError
	if errors.As(err, &vErr) {
		WriteError(w, http.StatusBadRequest, ErrorDetail{Code: ErrCodeValidation, Message: vErr.Error(), Field: vErr.Field})
		return
	}

	h.logger.ErrorContext(r.Context(), "statistics query failed", "path", r.URL.Path, "error", err)
	WriteError(w, http.StatusInternalServerError, ErrorDetail{Code: ErrCodeInternal, Message: "Failed to compute statistics"})
}

func intParam(w http.ResponseWriter, params url.Values, name string) (int, bool) {
	raw := params.Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrorDetail{Code: ErrCodeBadRequest, Message: name + " must be an integer", Field: name})
		return 0, false
	}
	return n, true
}

func boolParam(w http.ResponseWriter, params url.Values, name string) (bool, bool) {
	raw := params.Get(name)
	if raw == "" {
		return false, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrorDetail{Code: ErrCodeBadRequest, Message: name + " must be a boolean", Field: name})
		return false, false
	}
	return b, true
}

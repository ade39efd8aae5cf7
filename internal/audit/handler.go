package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "nser/pkg/domain-errors"
	trail "nser/pkg/platform/audit"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Searcher interface {
	Search(ctx context.Context, q Query) ([]trail.Entry, error)
}

type Handler struct {
	searcher Searcher
	logger   *slog.Logger
}

func NewHandler(searcher Searcher, logger *slog.Logger) *Handler {
	return &Handler{searcher: searcher, logger: logger}
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/audit", h.HandleSearch)
}

// EntriesResponse wraps audit entries for HTTP response.
type EntriesResponse struct {
	Entries []trail.Entry `json:"entries"`
	Total   int           `json:"total"`
}

// HandleSearch handles GET /admin/audit?entity_type&entity_id or ?from&to&limit.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.searcher.Search(ctx, q)
	if err != nil {
		h.logger.WarnContext(ctx, "audit search failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []trail.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, EntriesResponse{Entries: entries, Total: len(entries)})
}

func parseQuery(r *http.Request) (Query, error) {
	values := r.URL.Query()
	q := Query{
		EntityType: trail.EntityType(values.Get("entity_type")),
		EntityID:   values.Get("entity_id"),
	}
	if q.EntityType.IsValid() && q.EntityID != "" {
		entityID, err := ParseEntityID(q.EntityType, q.EntityID)
		if err != nil {
			return Query{}, err
		}
		q.EntityID = entityID
	}
	var err error
	if q.From, err = parseTime(values.Get("from"), "from"); err != nil {
		return Query{}, err
	}
	if q.To, err = parseTime(values.Get("to"), "to"); err != nil {
		return Query{}, err
	}
	if raw := values.Get("limit"); raw != "" {
		q.Limit, err = strconv.Atoi(raw)
		if err != nil || q.Limit < 0 {
			return Query{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
	}
	return q, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidFormat, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

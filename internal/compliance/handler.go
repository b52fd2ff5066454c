package compliance

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/http/respond"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// Handler lets administrators review PHI access for a session.
type Handler struct {
	audit  *AuditService
	logger *logging.Logger
}

func NewHandler(audit *AuditService, logger *logging.Logger) *Handler {
	if audit == nil {
		panic("compliance: audit service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{audit: audit, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/audit", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !actor.IsAdmin() {
		respond.Error(w, http.StatusForbidden, "admin role required")
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	filter := AuditFilter{OrgID: actor.OrgID, SessionID: sessionID}
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.EventTypes = append(filter.EventTypes, AuditEventType(part))
			}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respond.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("compliance handler: list audit events", "error", err, "session_id", sessionID)
		respond.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []AuditEvent{}
	}
	respond.Data(w, http.StatusOK, events)
}

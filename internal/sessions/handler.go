package sessions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/http/respond"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// Handler exposes the session lifecycle over HTTP.
type Handler struct {
	svc      *Service
	logger   *logging.Logger
	validate *validator.Validate
}

// NewHandler creates a sessions HTTP handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("sessions: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// RegisterRoutes mounts session and therapist schedule endpoints. bookingMW wraps only
// the booking endpoint (rate limiting). Expected to be mounted under /v1 behind auth.
func (h *Handler) RegisterRoutes(r chi.Router, bookingMW ...func(http.Handler) http.Handler) {
	r.With(bookingMW...).Post("/sessions", h.book)
	r.Get("/sessions", h.listAll)
	r.Get("/sessions/mine", h.listMine)
	r.Get("/sessions/upcoming", h.listUpcoming)
	r.Get("/sessions/{sessionID}", h.get)
	r.Get("/sessions/{sessionID}/details", h.details)
	r.Post("/sessions/{sessionID}/join", h.join)
	r.Post("/sessions/{sessionID}/complete", h.complete)
	r.Post("/sessions/{sessionID}/reschedule", h.reschedule)
	r.Post("/sessions/{sessionID}/cancel", h.cancel)
	r.Get("/sessions/{sessionID}/notes", h.listNotes)
	r.Post("/sessions/{sessionID}/notes", h.addNote)

	r.Get("/therapists/{therapistID}/availability", h.getAvailability)
	r.Put("/therapists/{therapistID}/availability", h.setAvailability)
	r.Get("/therapists/{therapistID}/availability/check", h.checkAvailability)
	r.Get("/therapists/{therapistID}/slots", h.slots)
}

type bookRequest struct {
	TherapistID      string    `json:"therapist_id" validate:"required,uuid"`
	PatientID        string    `json:"patient_id" validate:"omitempty,uuid"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	DurationMinutes  int       `json:"duration_minutes" validate:"omitempty,min=15,max=240"`
	SessionType      string    `json:"session_type" validate:"omitempty,oneof=video audio chat in_person"`
	AmountPaid       int64     `json:"amount_paid" validate:"gte=0"`
	Currency         string    `json:"currency" validate:"omitempty,len=3"`
	PaymentReference string    `json:"payment_reference" validate:"max=128"`
	Notes            string    `json:"notes" validate:"max=2000"`
}

type completeRequest struct {
	Summary string `json:"summary" validate:"max=5000"`
}

type rescheduleRequest struct {
	NewScheduledAt time.Time `json:"new_scheduled_at"`
	Reason         string    `json:"reason" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type noteRequest struct {
	NoteType string `json:"note_type" validate:"omitempty,oneof=general soap"`
	Content  string `json:"content" validate:"required,max=20000"`
}

type availabilityRequest struct {
	Slots []availabilitySlotRequest `json:"slots" validate:"max=50,dive"`
}

type availabilitySlotRequest struct {
	DayOfWeek   int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
	IsAvailable *bool  `json:"is_available"`
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !h.decode(w, r, &req) {
		return
	}

	patientID := actor.UserID
	if actor.IsAdmin() {
		if req.PatientID == "" {
			respond.Error(w, http.StatusBadRequest, "patient_id is required")
			return
		}
		patientID = uuid.MustParse(req.PatientID)
	}

	sess, err := h.svc.BookSession(r.Context(), BookSessionInput{
		OrgID:            actor.OrgID,
		PatientID:        patientID,
		TherapistID:      uuid.MustParse(req.TherapistID),
		ScheduledAt:      req.ScheduledAt,
		DurationMinutes:  req.DurationMinutes,
		SessionType:      SessionType(req.SessionType),
		AmountPaid:       req.AmountPaid,
		Currency:         req.Currency,
		PaymentReference: req.PaymentReference,
		Notes:            req.Notes,
	})
	if err != nil {
		h.fail(w, "book session", err)
		return
	}
	respond.Data(w, http.StatusCreated, sess)
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	// Partners get a read-only view of their own organization's sessions.
	partner := actor.Role == tenancy.RolePartner && actor.OrgID != ""
	if !actor.IsAdmin() && !partner {
		respond.Error(w, http.StatusForbidden, ErrUnauthorized.Error())
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if actor.OrgID != "" {
		if filter.OrgID != "" && filter.OrgID != actor.OrgID {
			respond.Error(w, http.StatusForbidden, ErrUnauthorized.Error())
			return
		}
		filter.OrgID = actor.OrgID
	}
	list, err := h.svc.GetSessions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	respond.Data(w, http.StatusOK, nonNil(list))
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.svc.GetUserSessions(r.Context(), actor.UserID, filter)
	if err != nil {
		h.fail(w, "list user sessions", err)
		return
	}
	respond.Data(w, http.StatusOK, nonNil(list))
}

func (h *Handler) listUpcoming(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.GetUpcomingSessions(r.Context(), actor.UserID, limit)
	if err != nil {
		h.fail(w, "list upcoming sessions", err)
		return
	}
	respond.Data(w, http.StatusOK, nonNil(list))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.GetSessionByID(r.Context(), id)
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	if !sess.IsParticipant(actor.UserID) && !actor.AdministersOrg(sess.OrgID) {
		respond.Error(w, http.StatusForbidden, ErrUnauthorized.Error())
		return
	}
	respond.Data(w, http.StatusOK, sess)
}

func (h *Handler) details(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	details, err := h.svc.GetSessionDetails(r.Context(), id)
	if err != nil {
		h.fail(w, "get session details", err)
		return
	}
	if !details.IsParticipant(actor.UserID) && !actor.AdministersOrg(details.OrgID) {
		respond.Error(w, http.StatusForbidden, ErrUnauthorized.Error())
		return
	}
	if !details.IsParticipant(actor.UserID) {
		details.SessionNotes = nil
	}
	respond.Data(w, http.StatusOK, details)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.JoinSession(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "join session", err)
		return
	}
	respond.Data(w, http.StatusOK, sess)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	sess, err := h.svc.CompleteSession(r.Context(), id, actor, req.Summary)
	if err != nil {
		h.fail(w, "complete session", err)
		return
	}
	respond.Data(w, http.StatusOK, sess)
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.NewScheduledAt.IsZero() {
		respond.Error(w, http.StatusBadRequest, "new_scheduled_at is required")
		return
	}
	sess, err := h.svc.RescheduleSession(r.Context(), id, actor, req.NewScheduledAt, req.Reason)
	if err != nil {
		h.fail(w, "reschedule session", err)
		return
	}
	respond.Data(w, http.StatusOK, sess)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	sess, err := h.svc.CancelSession(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, "cancel session", err)
		return
	}
	respond.Data(w, http.StatusOK, sess)
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	notes, err := h.svc.GetSessionNotes(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "list notes", err)
		return
	}
	respond.Data(w, http.StatusOK, notes)
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !h.decode(w, r, &req) {
		return
	}
	note, err := h.svc.AddSessionNote(r.Context(), id, actor, NoteType(req.NoteType), req.Content)
	if err != nil {
		h.fail(w, "add note", err)
		return
	}
	respond.Data(w, http.StatusCreated, note)
}

func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	therapistID, ok := h.therapistID(w, r)
	if !ok {
		return
	}
	slots, err := h.svc.GetWeeklyAvailability(r.Context(), therapistID)
	if err != nil {
		h.fail(w, "get availability", err)
		return
	}
	respond.Data(w, http.StatusOK, slots)
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	therapistID, ok := h.therapistID(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	slots := make([]AvailabilitySlot, 0, len(req.Slots))
	for _, s := range req.Slots {
		enabled := true
		if s.IsAvailable != nil {
			enabled = *s.IsAvailable
		}
		slots = append(slots, AvailabilitySlot{
			TherapistID: therapistID,
			DayOfWeek:   time.Weekday(s.DayOfWeek),
			StartTime:   s.StartTime,
			EndTime:     s.EndTime,
			IsAvailable: enabled,
		})
	}
	saved, err := h.svc.SetWeeklyAvailability(r.Context(), therapistID, actor, slots)
	if err != nil {
		h.fail(w, "set availability", err)
		return
	}
	respond.Data(w, http.StatusOK, saved)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	therapistID, ok := h.therapistID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "start must be an RFC3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "end must be an RFC3339 timestamp")
		return
	}
	available, err := h.svc.CheckTherapistAvailability(r.Context(), therapistID, start, end)
	if err != nil {
		h.fail(w, "check availability", err)
		return
	}
	respond.Data(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *Handler) slots(w http.ResponseWriter, r *http.Request) {
	therapistID, ok := h.therapistID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	date, err := time.ParseInLocation(time.DateOnly, q.Get("date"), h.svc.loc)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	duration := 0
	if v := q.Get("duration"); v != "" {
		if duration, err = strconv.Atoi(v); err != nil {
			respond.Error(w, http.StatusBadRequest, "duration must be a number of minutes")
			return
		}
	}
	slots, err := h.svc.GetAvailableSlots(r.Context(), therapistID, date, duration)
	if err != nil {
		h.fail(w, "available slots", err)
		return
	}
	respond.Data(w, http.StatusOK, slots)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (tenancy.Actor, bool) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return tenancy.Actor{}, false
	}
	return actor, true
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (tenancy.Actor, uuid.UUID, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return actor, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid session id")
		return actor, uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) therapistID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "therapistID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid therapist id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respond.Validation(w, err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("sessions handler: "+action, "error", err)
		respond.Error(w, status, "internal server error")
		return
	}
	respond.Error(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentNotVerified):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrTherapistUnavailable), errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrJoinTooEarly),
		errors.Is(err, ErrJoinTooLate), errors.Is(err, ErrCancellationWindow),
		errors.Is(err, ErrPaymentAlreadyUsed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	var filter ListFilter
	filter.OrgID = q.Get("org_id")
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := Status(strings.TrimSpace(part))
			if !st.Valid() {
				return filter, errors.New("unknown status " + string(st))
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	for key, dst := range map[string]**uuid.UUID{"therapist_id": &filter.TherapistID, "patient_id": &filter.PatientID} {
		if v := q.Get(key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return filter, errors.New("invalid " + key)
			}
			*dst = &id
		}
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errors.New(key + " must be an RFC3339 timestamp")
			}
			*dst = &t
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	filter.Ascending = q.Get("order") == "asc"
	return filter, nil
}

func nonNil(list []Session) []Session {
	if list == nil {
		return []Session{}
	}
	return list
}

package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"qms/qalert/internal/lifecycle"
	"qms/qalert/internal/models"
	"qms/qalert/internal/notify"
	"qms/qalert/internal/observer"
	"qms/qalert/internal/session"
	"qms/qalert/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const refreshTimeout = 10 * time.Second

type Handler struct {
	machine  *lifecycle.Machine
	store    store.RecordStore
	sessions session.Store
	console  *observer.Observer
	display  *observer.Observer
	patients *observer.Pool
	staffKey string
}

type Options struct {
	Sessions session.Store
	// Console and Display follow today's queue; the handler refreshes them
	// after every successful write.
	Console *observer.Observer
	Display *observer.Observer
	// Patients holds one observer per patient session, keyed by token.
	Patients *observer.Pool
	StaffKey string
}

type createSessionRequest struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	StaffKey  string `json:"staff_key"`
}

func (req createSessionRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Role, validation.Required, validation.In(session.RoleStaff, session.RolePatient)),
		validation.Field(&req.SubjectID, validation.When(req.Role == session.RolePatient, validation.Required)),
	)
}

type createEntryRequest struct {
	SubjectID        string      `json:"subject_id"`
	ServiceDate      models.Date `json:"service_date"`
	VisitReason      string      `json:"visit_reason"`
	ReasonCategoryID string      `json:"reason_category_id"`
	ScheduleRef      *string     `json:"schedule_ref"`
}

type updateReasonRequest struct {
	VisitReason      string `json:"visit_reason"`
	ReasonCategoryID string `json:"reason_category_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ReleaseSession stops the per-session observer held for token, if any.
func (h *Handler) ReleaseSession(token string) {
	if h.patients.Teardown(token) {
		logrus.Debug("httpapi: released observer for ended session")
	}
}

func NewHandler(machine *lifecycle.Machine, st store.RecordStore, options Options) *Handler {
	patients := options.Patients
	if patients == nil {
		patients = observer.NewPool(func(string) *observer.Observer {
			return observer.New(st, observer.Options{Kind: observer.KindPatient, Day: machine.Today})
		})
	}
	return &Handler{
		machine:  machine,
		store:    st,
		sessions: options.Sessions,
		console:  options.Console,
		display:  options.Display,
		patients: patients,
		staffKey: options.StaffKey,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/current", h.handleCurrentSession)
	mux.HandleFunc("/api/entries", h.handleEntries)
	mux.HandleFunc("/api/entries/", h.handleEntryRoutes)
	mux.HandleFunc("/api/appointments/confirm", h.handleAppointmentConfirm)
	mux.HandleFunc("/api/console", h.handleConsole)
	mux.HandleFunc("/api/display", h.handleDisplay)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)

	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.Role = strings.TrimSpace(req.Role)
	if err := req.Validate(); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if req.Role == session.RoleStaff {
		if !staffKeyMatches(h.staffKey, req.StaffKey) {
			writeError(w, requestID, http.StatusForbidden, "access_denied", "invalid staff key")
			return
		}
	} else {
		subjects, err := h.store.ListSubjects(r.Context())
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		if _, ok := store.FindSubject(subjects, req.SubjectID); !ok {
			writeError(w, requestID, http.StatusNotFound, "subject_not_found", "subject not found")
			return
		}
	}

	created, err := h.sessions.Init(r.Context(), session.Session{SubjectID: req.SubjectID, Role: req.Role})
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	current, ok := requireSession(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, current)
	case http.MethodDelete:
		if err := h.sessions.Teardown(r.Context(), current.Token); err != nil && !errors.Is(err, session.ErrNotFound) {
			h.writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
		h.patients.Teardown(current.Token)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	current, ok := requireSession(w, r)
	if !ok {
		return
	}
	requestID := requestIDFromRequest(r)

	var req createEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if !current.IsStaff() {
		if req.SubjectID != "" && req.SubjectID != current.SubjectID {
			writeError(w, requestID, http.StatusForbidden, "access_denied", "patients may only book for themselves")
			return
		}
		req.SubjectID = current.SubjectID
	}

	entry, err := h.machine.Create(r.Context(), lifecycle.CreateInput{
		SubjectID:        req.SubjectID,
		ServiceDate:      req.ServiceDate,
		VisitReason:      req.VisitReason,
		ReasonCategoryID: req.ReasonCategoryID,
		ScheduleRef:      req.ScheduleRef,
	})
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	h.refreshShared()
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleAppointmentConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	current, ok := requireSession(w, r)
	if !ok {
		return
	}
	requestID := requestIDFromRequest(r)

	var req lifecycle.AppointmentInput
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if !canActOn(current, req.SubjectID) {
		writeError(w, requestID, http.StatusForbidden, "access_denied", "appointment belongs to another patient")
		return
	}

	entry, created, err := h.machine.CreateFromAppointment(r.Context(), req)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, entry)
		return
	}
	h.refreshShared()
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleEntryRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] != "" && parts[1] == "actions":
		h.handleEntryAction(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "status":
		h.handleEntryStatus(w, r, parts[0])
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
	}
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, entryID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	current, ok := requireSession(w, r)
	if !ok {
		return
	}
	requestID := requestIDFromRequest(r)

	if action == "reason" {
		action = lifecycle.ActionUpdateReason
	}
	if _, known := lifecycle.TargetStatus(action); !known {
		writeError(w, requestID, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	if lifecycle.IsStaffAction(action) && !current.IsStaff() {
		writeError(w, requestID, http.StatusForbidden, "access_denied", "staff access required")
		return
	}
	if !current.IsStaff() && !h.ownsEntry(w, r, current, entryID) {
		return
	}

	var (
		entry models.QueueEntry
		err   error
	)
	if action == lifecycle.ActionUpdateReason {
		var req updateReasonRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, err = h.machine.UpdateReason(r.Context(), entryID, store.UpdateReasonInput{
			VisitReason:      req.VisitReason,
			ReasonCategoryID: strings.TrimSpace(req.ReasonCategoryID),
		})
	} else {
		entry, err = h.machine.Apply(r.Context(), entryID, action)
	}
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	h.refreshShared()
	writeJSON(w, http.StatusOK, entry)
}

// ownsEntry writes the error response itself when the patient may not act.
func (h *Handler) ownsEntry(w http.ResponseWriter, r *http.Request, current session.Session, entryID string) bool {
	entries, err := h.store.ListEntries(r.Context())
	if err != nil {
		h.writeMappedError(w, requestIDFromRequest(r), err)
		return false
	}
	entry, ok := store.FindEntry(entries, entryID)
	if !ok {
		h.writeMappedError(w, requestIDFromRequest(r), store.ErrEntryNotFound)
		return false
	}
	if !canActOn(current, entry.SubjectID) {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "entry belongs to another patient")
		return false
	}
	return true
}

func (h *Handler) handleEntryStatus(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	current, ok := requireSession(w, r)
	if !ok {
		return
	}
	requestID := requestIDFromRequest(r)
	day, ok := h.dayFromQuery(w, r)
	if !ok {
		return
	}

	var o *observer.Observer
	if day == h.machine.Today() && !current.IsStaff() {
		o = h.patients.Acquire(current.Token)
	} else {
		o = observer.New(h.store, observer.Options{Kind: observer.KindPatient, Day: fixedDay(day)})
	}
	snapshot, err := currentSnapshot(r.Context(), o)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	status, found := observer.StatusOf(snapshot, entryID)
	if !found {
		h.writeMappedError(w, requestID, store.ErrEntryNotFound)
		return
	}
	if !canActOn(current, status.Entry.SubjectID) {
		writeError(w, requestID, http.StatusForbidden, "access_denied", "entry belongs to another patient")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	day, ok := h.dayFromQuery(w, r)
	if !ok {
		return
	}

	o := h.console
	if o == nil || day != h.machine.Today() {
		o = observer.New(h.store, observer.Options{Kind: observer.KindConsole, Day: fixedDay(day)})
	}
	snapshot, err := currentSnapshot(r.Context(), o)
	if err != nil {
		h.writeMappedError(w, requestIDFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, observer.BuildViewWith(snapshot, h.machine.Admission()))
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	o := h.display
	if o == nil {
		o = observer.New(h.store, observer.Options{Kind: observer.KindDisplay, Day: h.machine.Today})
	}
	snapshot, ok := h.publishedSnapshot(o)
	if !ok {
		var err error
		if snapshot, err = currentSnapshot(r.Context(), o); err != nil {
			h.writeMappedError(w, requestIDFromRequest(r), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, observer.BuildBoard(snapshot))
}

func (h *Handler) dayFromQuery(w http.ResponseWriter, r *http.Request) (models.Date, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return h.machine.Today(), true
	}
	day, err := models.ParseDate(raw)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return models.Date{}, false
	}
	return day, true
}

// refreshShared brings the shared observers up to date after a write so
// realtime subscribers do not wait for the next poll.
func (h *Handler) refreshShared() {
	for _, o := range []*observer.Observer{h.console, h.display} {
		if o == nil {
			continue
		}
		go func(o *observer.Observer) {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if _, err := o.Refresh(ctx); err != nil {
				logrus.WithError(err).WithField("observer", o.Kind()).Warn("httpapi: refresh after write failed")
			}
		}(o)
	}
}

// staffKeyMatches accepts either a bcrypt hash or a plain key as the
// configured value. An empty configuration disables staff login.
func staffKeyMatches(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// publishedSnapshot returns the last snapshot o published for today. The
// display observer polls on its own cadence, so public reads never reach
// the store once it has published.
func (h *Handler) publishedSnapshot(o *observer.Observer) (observer.Snapshot, bool) {
	snapshot, _, ok := o.Snapshot()
	if !ok || snapshot.Day != h.machine.Today() {
		return observer.Snapshot{}, false
	}
	return snapshot, true
}

func currentSnapshot(ctx context.Context, o *observer.Observer) (observer.Snapshot, error) {
	if _, err := o.Refresh(ctx); err != nil {
		return observer.Snapshot{}, err
	}
	snapshot, _, _ := o.Snapshot()
	return snapshot, nil
}

func fixedDay(day models.Date) func() models.Date {
	return func() models.Date { return day }
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("request_id", requestID).Error("httpapi: request failed")
	}
	field, _ := store.RejectedField(err)
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error:     responseError{Code: code, Message: message, Field: field},
	})
}

func mapError(err error) (int, string, string) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		message := verr.Message
		if message == "" {
			message = "validation rejected"
		}
		return http.StatusUnprocessableEntity, "validation_rejected", message
	case errors.Is(err, store.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated", "record store rejected the credentials"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "entry not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry state does not allow this action"
	case errors.Is(err, store.ErrAdmissionConflict):
		return http.StatusConflict, "admission_conflict", "another patient is already called or being served"
	case errors.Is(err, store.ErrNetworkFailure):
		return http.StatusServiceUnavailable, "network_failure", "record store unavailable"
	case errors.Is(err, store.ErrMalformedResponse):
		return http.StatusBadGateway, "malformed_response", "record store returned an unexpected response"
	case errors.Is(err, notify.ErrNotificationFailed):
		return http.StatusBadGateway, "notification_failed", "notification could not be delivered"
	case errors.Is(err, session.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_request", "invalid role"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

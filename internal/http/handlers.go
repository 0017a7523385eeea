package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redisadapter "github.com/ticketline/admission/internal/adapters/redis"
	"github.com/ticketline/admission/internal/admission"
	"github.com/ticketline/admission/internal/config"
	"github.com/ticketline/admission/internal/domain"
	"github.com/ticketline/admission/internal/hold"
	"github.com/ticketline/admission/internal/idempotency"
	"github.com/ticketline/admission/internal/ledger"
	"github.com/ticketline/admission/internal/observability"
)

const availabilityCacheTTL = 2 * time.Second

type Handlers struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	holds  *hold.Manager
	queue  *admission.Queue
	cache  *redisadapter.Cache
	idemp  *idempotency.Idempotency
	logger observability.Logger
}

func NewHandlers(cfg *config.Config, lgr *ledger.Ledger, holds *hold.Manager, queue *admission.Queue, cache *redisadapter.Cache, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		ledger: lgr,
		holds:  holds,
		queue:  queue,
		cache:  cache,
		idemp:  idemp,
		logger: logger,
	}
}

type sessionResponse struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

func toSessionResponse(s domain.AdmissionSession) sessionResponse {
	return sessionResponse{
		ID:            s.ID.String(),
		State:         string(s.State),
		QueuePosition: s.QueuePosition,
		Deadline:      s.Deadline,
	}
}

type holdResponse struct {
	ID        string    `json:"id"`
	TierID    string    `json:"tier_id"`
	Quantity  int       `json:"quantity"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		ID:        h.ID.String(),
		TierID:    h.TierID.String(),
		Quantity:  h.Quantity,
		State:     string(h.State),
		ExpiresAt: h.ExpiresAt,
	}
}

// Enter admits a buyer into the waiting room for an event. A Waiting
// session is a successful admission, not an error.
func (h *Handlers) Enter(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	token := holderToken(r)
	if token == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "missing holder token")
		return
	}

	session, err := h.queue.Enter(r.Context(), eventID, token)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	session, err := h.queue.GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	session, err := h.queue.Heartbeat(r.Context(), sessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.queue.Leave(r.Context(), sessionID); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// PlaceHold reserves tickets for a tier. 409 sold_out is the expected
// outcome when the ledger predicate rejects the reservation.
func (h *Handlers) PlaceHold(w http.ResponseWriter, r *http.Request) {
	if h.replayIdempotent(w, r) {
		return
	}
	tierID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Quantity    int    `json:"quantity"`
		HolderToken string `json:"holder_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if req.HolderToken == "" {
		req.HolderToken = holderToken(r)
	}

	created, err := h.holds.PlaceHold(r.Context(), tierID, req.HolderToken, req.Quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.invalidateAvailability(r, tierID)
	data := writeJSON(w, http.StatusCreated, toHoldResponse(created))
	h.storeIdempotent(r, http.StatusCreated, data)
}

func (h *Handlers) RenewHold(w http.ResponseWriter, r *http.Request) {
	holdID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	renewed, err := h.holds.RenewHold(r.Context(), holdID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldResponse(renewed))
}

// ConfirmHold is called by the payment collaborator after capture.
// Retried deliveries with the same payment ref replay as success.
func (h *Handlers) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	if h.replayIdempotent(w, r) {
		return
	}
	holdID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	confirmed, err := h.holds.ConfirmHold(r.Context(), holdID, req.PaymentRef)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.invalidateAvailability(r, confirmed.TierID)
	data := writeJSON(w, http.StatusOK, toHoldResponse(confirmed))
	h.storeIdempotent(r, http.StatusOK, data)
}

func (h *Handlers) CancelHold(w http.ResponseWriter, r *http.Request) {
	holdID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	released, err := h.holds.ReleaseHold(r.Context(), holdID, domain.HoldStateCancelled)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateAvailability(r, released.TierID)
	writeJSON(w, http.StatusOK, toHoldResponse(released))
}

// Availability serves the display projection, briefly cached. The cache
// never gates a reserve decision.
func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	tierID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if cached, hit, err := h.cache.GetAvailability(r.Context(), tierID); err == nil && hit {
		writeJSON(w, http.StatusOK, map[string]int{"available": cached})
		return
	}

	available, err := h.ledger.Availability(r.Context(), tierID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.cache.SetAvailability(r.Context(), tierID, available, availabilityCacheTTL); err != nil {
		h.logger.WithError(err).Debug("availability cache write failed")
	}
	writeJSON(w, http.StatusOK, map[string]int{"available": available})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError || errors.Is(err, domain.ErrInventoryInvariant) {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, status, code, err.Error())
}

func (h *Handlers) replayIdempotent(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return false
	}
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil || existing == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(existing.Status)
	w.Write(existing.Result)
	return true
}

func (h *Handlers) storeIdempotent(r *http.Request, status int, data []byte) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || data == nil {
		return
	}
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data}); err != nil {
		h.logger.WithError(err).Warn("idempotency store failed")
	}
}

func (h *Handlers) invalidateAvailability(r *http.Request, tierID uuid.UUID) {
	if err := h.cache.InvalidateAvailability(r.Context(), tierID); err != nil {
		h.logger.WithError(err).Debug("availability cache invalidation failed")
	}
}

func holderToken(r *http.Request) string {
	return r.Header.Get("X-Holder-Token")
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid id")
		return uuid.UUID{}, false
	}
	return id, true
}

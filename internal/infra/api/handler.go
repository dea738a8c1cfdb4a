package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/credits"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/orgs"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/reset"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/users"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

type Handler struct {
	log     *slog.Logger
	credits *credits.Service
	orgs    *orgs.Service
	plans   *plans.Service
	sweeper *reset.Sweeper
	txlog   *txlog.Repo
	users   *users.Repo
}

func NewHandler(log *slog.Logger, creditsSvc *credits.Service, orgsSvc *orgs.Service,
	plansSvc *plans.Service, sweeper *reset.Sweeper, txRepo *txlog.Repo, usersRepo *users.Repo) *Handler {

	return &Handler{
		log: log, credits: creditsSvc, orgs: orgsSvc,
		plans: plansSvc, sweeper: sweeper, txlog: txRepo, users: usersRepo,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/credits/check", h.handleCheck)
	mux.HandleFunc("POST /api/credits/consume", h.handleConsume)
	mux.HandleFunc("POST /api/users", h.handleSyncUser)
	mux.HandleFunc("POST /api/orgs", h.handleCreateOrg)
	mux.HandleFunc("GET /api/orgs/{id}", h.handleGetOrg)
	mux.HandleFunc("GET /api/orgs/{id}/members", h.handleListMembers)
	mux.HandleFunc("PUT /api/orgs/{id}/members/{userID}/role", h.handleSetMemberRole)
	mux.HandleFunc("POST /api/plans/requests", h.handleSubmitRequest)
	mux.HandleFunc("GET /api/admin/plan-requests", h.handleListPending)
	mux.HandleFunc("POST /api/admin/plan-requests/{id}/review", h.handleReview)
	mux.HandleFunc("POST /api/admin/reset-sweep", h.handleSweep)
	mux.HandleFunc("GET /api/admin/transactions", h.handleListTransactions)
}

type checkRequest struct {
	ActorID   int64  `json:"actor_id"`
	Operation string `json:"operation"`
}

type checkResponse struct {
	Admitted  bool   `json:"admitted"`
	Available int64  `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.credits.Check(r.Context(), req.ActorID, req.Operation)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkResponse{Admitted: res.Admitted, Available: res.Available, Reason: res.Reason})
}

type consumeRequest struct {
	ActorID      int64          `json:"actor_id"`
	Operation    string         `json:"operation"`
	CostOverride *int64         `json:"cost_override,omitempty"`
	Reference    string         `json:"reference,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type consumeResponse struct {
	Status           string `json:"status"`
	RemainingBalance int64  `json:"remaining_balance"`
	Reason           string `json:"reason,omitempty"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.credits.Consume(r.Context(), req.ActorID, req.Operation, credits.ConsumeOptions{
		CostOverride: req.CostOverride,
		Reference:    req.Reference,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, consumeResponse{
		Status:           string(res.Status),
		RemainingBalance: res.RemainingBalance,
		Reason:           res.Reason,
	})
}

type syncUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// handleSyncUser — профили приходят из внешней аутентификации.
func (h *Handler) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	var req syncUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "email is required"})
		return
	}
	role := users.Role(req.Role)
	if role == "" {
		role = users.RoleUser
	}
	if role != users.RoleUser && role != users.RoleAdmin {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "role must be user or admin"})
		return
	}
	u, err := h.users.UpsertByEmail(r.Context(), req.Email, req.Name, role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

type createOrgRequest struct {
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

func (h *Handler) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "name is required"})
		return
	}
	org, err := h.orgs.Create(r.Context(), req.Name, req.OwnerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, org)
}

func (h *Handler) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, org)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	members, err := h.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, members)
}

type setRoleRequest struct {
	ActorID int64  `json:"actor_id"`
	Role    string `json:"role"`
}

func (h *Handler) handleSetMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req setRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.orgs.SetMemberRole(r.Context(), orgID, req.ActorID, userID, orgs.Role(req.Role)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	ActorID       int64  `json:"actor_id"`
	RequestedTier string `json:"requested_tier"`
	Notes         string `json:"notes"`
}

func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.plans.Submit(r.Context(), req.ActorID, plans.Tier(req.RequestedTier), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	kind := ledger.Kind(r.URL.Query().Get("scope"))
	list, err := h.plans.ListPending(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

type reviewRequest struct {
	ReviewerID int64  `json:"reviewer_id"`
	Action     string `json:"action"`
	Notes      string `json:"notes"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "action must be approve or reject"})
		return
	}
	out, err := h.plans.Review(r.Context(), id, req.ReviewerID, req.Action == "approve", req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context(), time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	const limit = 200
	q := r.URL.Query()

	var (
		records []txlog.Record
		err     error
	)
	switch {
	case q.Get("org_id") != "":
		id, perr := strconv.ParseInt(q.Get("org_id"), 10, 64)
		if perr != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid org_id"})
			return
		}
		records, err = h.txlog.ListByScope(r.Context(), ledger.Organization(id), limit)
	case q.Get("actor_id") != "":
		id, perr := strconv.ParseInt(q.Get("actor_id"), 10, 64)
		if perr != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid actor_id"})
			return
		}
		records, err = h.txlog.ListByScope(r.Context(), ledger.Personal(id), limit)
	default:
		records, err = h.txlog.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

/*** helpers ***/

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid JSON body"})
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write response failed", "err", err)
	}
}

// writeError переводит доменные ошибки в структурированные ответы;
// всё ожидаемое — не 5xx.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orgs.ErrUnknownActor), errors.Is(err, users.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown_actor", Message: err.Error()})
	case errors.Is(err, orgs.ErrNotFound), errors.Is(err, plans.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, credits.ErrUnknownScope):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown_scope", Message: err.Error()})
	case errors.Is(err, credits.ErrUnknownOperation):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown_operation", Message: err.Error()})
	case errors.Is(err, plans.ErrUnknownTier):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown_tier", Message: err.Error()})
	case errors.Is(err, plans.ErrAlreadyOnTier):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "already_on_tier", Message: err.Error()})
	case errors.Is(err, plans.ErrDuplicatePending):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "duplicate_pending", Message: err.Error()})
	case errors.Is(err, orgs.ErrAlreadyMember):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "already_member", Message: err.Error()})
	case errors.Is(err, plans.ErrAlreadyReviewed):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "already_reviewed", Message: err.Error()})
	case errors.Is(err, plans.ErrPermissionDenied), errors.Is(err, orgs.ErrPermissionDenied):
		h.writeJSON(w, http.StatusForbidden, errorBody{Error: "permission_denied", Message: err.Error()})
	case errors.Is(err, db.ErrTransientConflict):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "transient_conflict", Message: "write conflict, retry the request"})
	default:
		h.log.Error("request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}

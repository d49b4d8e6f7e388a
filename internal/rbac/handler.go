package rbac

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Handler wires HTTP endpoints for the evaluation engine.
type Handler struct {
	logger    *slog.Logger
	provider  *Provider
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, provider *Provider) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		provider:  provider,
		validator: validator.New(),
	}
}

// MountRoutes registers engine routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.handleCheck)
	r.Get("/permissions", h.handleAvailablePermissions)
	r.Get("/resources", h.handleAvailableResources)
	r.Get("/health", h.handleHealth)
	r.Post("/cache/invalidate", h.handleInvalidate)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/permissions", h.handleUserPermissions)
		r.Post("/permissions", h.handleAssignPermission)
		r.Post("/permissions/revoke", h.handleRevokePermission)
		r.Post("/permissions/batch", h.handleBatchAssign)
		r.Post("/permissions/batch-revoke", h.handleBatchRevoke)

		r.Get("/roles", h.handleUserRoles)
		r.Post("/roles", h.handleAssignRole)
		r.Post("/roles/revoke", h.handleRevokeRole)
		r.Get("/roles/{roleSlug}", h.handleHasRole)
	})
}

type checkRequest struct {
	UserID     string            `json:"user_id" validate:"required,uuid4_rfc4122|uuid_rfc4122"`
	Permission string            `json:"permission" validate:"required"`
	Resource   string            `json:"resource"`
	Context    map[string]string `json:"context"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid user_id")
		return
	}

	allowed, err := h.provider.Can(r.Context(), userID, req.Permission, req.Resource, req.Context)
	if err != nil {
		h.logger.Error("permission check failed", slog.String("user", req.UserID),
			slog.String("permission", req.Permission), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not determine access")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	perms, err := h.provider.GetUserPermissions(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user permissions failed", slog.String("user", userID.String()), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not load permissions")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type assignPermissionRequest struct {
	Permission  string         `json:"permission" validate:"required"`
	Resource    string         `json:"resource"`
	ExpiresAt   string         `json:"expires_at"`
	Constraints map[string]any `json:"constraints"`
	GrantedBy   string         `json:"granted_by"`
}

func (h *Handler) handleAssignPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req assignPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	expiresAt, err := parseExpiry(req.ExpiresAt)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid expires_at")
		return
	}

	err = h.provider.AssignPermission(r.Context(), userID, req.Permission, req.Resource, GrantOptions{
		GrantedBy:   req.GrantedBy,
		ExpiresAt:   expiresAt,
		Constraints: req.Constraints,
	})
	if h.handleMutationError(w, err, "assign permission") {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type revokePermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
	Resource   string `json:"resource"`
}

func (h *Handler) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req revokePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.provider.RevokePermission(r.Context(), userID, req.Permission, req.Resource)
	if h.handleMutationError(w, err, "revoke permission") {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type batchAssignRequest struct {
	Grants []assignPermissionRequest `json:"grants" validate:"required,min=1,dive"`
}

func (h *Handler) handleBatchAssign(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req batchAssignRequest
	if !h.decode(w, r, &req) {
		return
	}

	grants := make([]BatchGrant, 0, len(req.Grants))
	for _, item := range req.Grants {
		expiresAt, err := parseExpiry(item.ExpiresAt)
		if err != nil {
			h.writeError(w, http.StatusUnprocessableEntity, "invalid expires_at for "+item.Permission)
			return
		}
		grants = append(grants, BatchGrant{
			Permission: item.Permission,
			Resource:   item.Resource,
			Options: GrantOptions{
				GrantedBy:   item.GrantedBy,
				ExpiresAt:   expiresAt,
				Constraints: item.Constraints,
			},
		})
	}

	outcomes := h.provider.BatchAssignPermissions(r.Context(), userID, grants)
	h.writeJSON(w, http.StatusOK, batchResponse(outcomes))
}

type batchRevokeRequest struct {
	Revocations []revokePermissionRequest `json:"revocations" validate:"required,min=1,dive"`
}

func (h *Handler) handleBatchRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req batchRevokeRequest
	if !h.decode(w, r, &req) {
		return
	}

	revocations := make([]BatchRevocation, 0, len(req.Revocations))
	for _, item := range req.Revocations {
		revocations = append(revocations, BatchRevocation{Permission: item.Permission, Resource: item.Resource})
	}
	outcomes := h.provider.BatchRevokePermissions(r.Context(), userID, revocations)
	h.writeJSON(w, http.StatusOK, batchResponse(outcomes))
}

func (h *Handler) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	roles, err := h.provider.GetUserRoles(r.Context(), userID, scopeFromQuery(r))
	if err != nil {
		h.logger.Error("list user roles failed", slog.String("user", userID.String()), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not load roles")
		return
	}

	type roleView struct {
		Slug   string `json:"slug"`
		Name   string `json:"name"`
		Level  int    `json:"level"`
		Status string `json:"status"`
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, roleView{Slug: role.Slug, Name: role.Name, Level: role.Level, Status: role.Status})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"roles": views})
}

type assignRoleRequest struct {
	Role       string            `json:"role" validate:"required"`
	Scope      map[string]string `json:"scope"`
	ExpiresAt  string            `json:"expires_at"`
	AssignedBy string            `json:"assigned_by"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	expiresAt, err := parseExpiry(req.ExpiresAt)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid expires_at")
		return
	}

	err = h.provider.AssignRole(r.Context(), userID, req.Role, RoleAssignOptions{
		Scope:      req.Scope,
		ExpiresAt:  expiresAt,
		AssignedBy: req.AssignedBy,
	})
	if h.handleMutationError(w, err, "assign role") {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type revokeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req revokeRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.provider.RevokeRole(r.Context(), userID, req.Role)
	if h.handleMutationError(w, err, "revoke role") {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleHasRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	has, err := h.provider.HasRole(r.Context(), userID, chi.URLParam(r, "roleSlug"), scopeFromQuery(r))
	if err != nil {
		h.logger.Error("has role failed", slog.String("user", userID.String()), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not determine role membership")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"has_role": has})
}

type invalidateRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		h.provider.InvalidateAllCache(r.Context())
		h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": "all"})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid user_id")
		return
	}
	h.provider.InvalidateUserCache(r.Context(), userID)
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": req.UserID})
}

func (h *Handler) handleAvailablePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.provider.GetAvailablePermissions(r.Context())
	if err != nil {
		h.logger.Error("list available permissions failed", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not load permission catalog")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) handleAvailableResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.provider.GetAvailableResources(r.Context())
	if err != nil {
		h.logger.Error("list available resources failed", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not load resource catalog")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.provider.HealthCheck(r.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, status)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid user id")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// handleMutationError maps engine errors to HTTP responses and reports
// whether the request has been answered.
func (h *Handler) handleMutationError(w http.ResponseWriter, err error, op string) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "unknown permission or role")
	case errors.Is(err, ErrInvalidConstraints):
		h.writeError(w, http.StatusUnprocessableEntity, "invalid constraints")
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, op+" failed")
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func batchResponse(outcomes []BatchOutcome) map[string]any {
	type outcomeView struct {
		Permission string `json:"permission"`
		Resource   string `json:"resource"`
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
	}
	views := make([]outcomeView, 0, len(outcomes))
	allOK := true
	for _, outcome := range outcomes {
		view := outcomeView{Permission: outcome.Permission, Resource: outcome.Resource, Success: outcome.Err == nil}
		if outcome.Err != nil {
			allOK = false
			view.Error = outcome.Err.Error()
		}
		views = append(views, view)
	}
	return map[string]any{"success": allOK, "results": views}
}

func parseExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scopeFromQuery(r *http.Request) map[string]string {
	values := r.URL.Query()["scope"]
	if len(values) == 0 {
		return nil
	}
	scope := make(map[string]string, len(values))
	for _, pair := range values {
		if key, value, ok := cutPair(pair); ok {
			scope[key] = value
		}
	}
	if len(scope) == 0 {
		return nil
	}
	return scope
}

func cutPair(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == ':' {
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

package roles

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/glueful/accessd/internal/rbac"
	"github.com/glueful/accessd/internal/shared"
)

// Handler wires HTTP endpoints for role administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{slug}", h.handleGet)
	r.Put("/{slug}", h.handleUpdate)
	r.Delete("/{slug}", h.handleDelete)
	r.Put("/{slug}/parent", h.handleSetParent)
	r.Put("/{slug}/permissions", h.handleSetPermissions)
}

type roleView struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
	Status      string `json:"status"`
	IsSystem    bool   `json:"is_system"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters := RoleListFilters{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("q"),
	}
	roles, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not list roles")
		return
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, toView(role))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.mapError(w, err, "get role")
		return
	}
	h.writeJSON(w, http.StatusOK, toView(*role))
}

type createRoleRequest struct {
	Slug        string `json:"slug" validate:"required"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       int    `json:"level" validate:"min=0"`
	Parent      string `json:"parent"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.Create(r.Context(), CreateRoleInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
		ParentSlug:  req.Parent,
	})
	if err != nil {
		h.mapError(w, err, "create role")
		return
	}
	h.writeJSON(w, http.StatusCreated, toView(*role))
}

type updateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.Update(r.Context(), chi.URLParam(r, "slug"), UpdateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		h.mapError(w, err, "update role")
		return
	}
	h.writeJSON(w, http.StatusOK, toView(*role))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "slug")); err != nil {
		h.mapError(w, err, "delete role")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type setParentRequest struct {
	Parent string `json:"parent"`
}

func (h *Handler) handleSetParent(w http.ResponseWriter, r *http.Request) {
	var req setParentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetParent(r.Context(), chi.URLParam(r, "slug"), req.Parent); err != nil {
		h.mapError(w, err, "set role parent")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type setPermissionsRequest struct {
	Grants []struct {
		Permission string `json:"permission" validate:"required"`
		Resource   string `json:"resource"`
	} `json:"grants" validate:"dive"`
}

func (h *Handler) handleSetPermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	grants := make([]SlugGrant, 0, len(req.Grants))
	for _, grant := range req.Grants {
		grants = append(grants, SlugGrant{Permission: grant.Permission, Resource: grant.Resource})
	}
	if err := h.service.SetPermissions(r.Context(), chi.URLParam(r, "slug"), grants); err != nil {
		h.mapError(w, err, "set role permissions")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
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

func (h *Handler) mapError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrNotFound) || errors.Is(err, rbac.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "role not found")
	case errors.Is(err, rbac.ErrHierarchyCycle):
		h.writeError(w, http.StatusUnprocessableEntity, "hierarchy cycle rejected")
	case errors.Is(err, rbac.ErrMaxDepthExceeded):
		h.writeError(w, http.StatusUnprocessableEntity, "hierarchy depth limit exceeded")
	case errors.Is(err, rbac.ErrSystemProtected):
		h.writeError(w, http.StatusForbidden, "system role is protected")
	case errors.Is(err, shared.ErrConflict):
		h.writeError(w, http.StatusConflict, "slug already in use")
	case errors.Is(err, shared.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, op+" failed")
	}
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

func toView(role Role) roleView {
	view := roleView{
		Slug:        role.Slug,
		Name:        role.Name,
		Description: role.Description,
		Level:       role.Level,
		Status:      role.Status,
		IsSystem:    role.IsSystem,
	}
	return view
}

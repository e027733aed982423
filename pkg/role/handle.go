package role

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-membership/pkg/account"
)

// Handler handles HTTP requests for role management.
type Handler struct {
	roleService *RoleService
}

// NewHandler creates a new role handler.
func NewHandler(roleService *RoleService) *Handler {
	return &Handler{
		roleService: roleService,
	}
}

// RegisterRoutes registers the role routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Delete("/{name}", h.Delete)
		r.Get("/{name}/users", h.UsersInRole)
		r.Post("/members", h.AddMembers)
		r.Delete("/members", h.RemoveMembers)
	})
	r.Get("/accounts/{username}/roles", h.RolesForUser)
}

// createRoleRequest deliberately has no parent field: lookups, deletion, and
// membership all resolve roles by (tenant, name), so the API only creates
// roles addressable that way. Parent-namespaced roles are a programmatic
// concern of RoleService callers.
type createRoleRequest struct {
	Tenant string `json:"tenant"`
	Name   string `json:"name"`
}

// Create adds a new role.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.roleService.CreateRole(r.Context(), req.Tenant, req.Name, "")
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyRoleName):
			renderError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrRoleExists):
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, created)
}

// List returns the names of every role in the tenant.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.roleService.AllRoles(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, struct {
		Roles []string `json:"roles"`
	}{Roles: names})
}

// Delete removes a role. With fail_if_populated=true a role that still has
// members is rejected with 409.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	failIfPopulated := r.URL.Query().Get("fail_if_populated") == "true"

	ok, err := h.roleService.DeleteRole(r.Context(), r.URL.Query().Get("tenant"), chi.URLParam(r, "name"), failIfPopulated)
	if err != nil {
		if errors.Is(err, ErrRolePopulated) {
			renderError(w, r, http.StatusConflict, err.Error())
			return
		}
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		renderError(w, r, http.StatusNotFound, "role not found")
		return
	}
	render.NoContent(w, r)
}

// UsersInRole returns the usernames holding a role, optionally filtered by a
// username substring via ?match=.
func (h *Handler) UsersInRole(w http.ResponseWriter, r *http.Request) {
	usernames, err := h.roleService.FindUsersInRole(r.Context(),
		r.URL.Query().Get("tenant"), chi.URLParam(r, "name"), r.URL.Query().Get("match"))
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			renderError(w, r, http.StatusNotFound, "role not found")
			return
		}
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, struct {
		Users []string `json:"users"`
	}{Users: usernames})
}

// RolesForUser returns the role names held by an account.
func (h *Handler) RolesForUser(w http.ResponseWriter, r *http.Request) {
	names, err := h.roleService.RolesForUser(r.Context(), r.URL.Query().Get("tenant"), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			renderError(w, r, http.StatusNotFound, "account not found")
			return
		}
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, struct {
		Roles []string `json:"roles"`
	}{Roles: names})
}

type membershipRequest struct {
	Tenant    string   `json:"tenant"`
	Usernames []string `json:"usernames"`
	Roles     []string `json:"roles"`
}

// AddMembers adds every named role to every named account.
func (h *Handler) AddMembers(w http.ResponseWriter, r *http.Request) {
	h.editMembers(w, r, h.roleService.AddUsersToRoles)
}

// RemoveMembers removes every named role from every named account.
func (h *Handler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	h.editMembers(w, r, h.roleService.RemoveUsersFromRoles)
}

func (h *Handler) editMembers(w http.ResponseWriter, r *http.Request, edit func(ctx context.Context, tenant string, usernames, roleNames []string) error) {
	var req membershipRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := edit(r.Context(), req.Tenant, req.Usernames, req.Roles); err != nil {
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.NoContent(w, r)
}

func renderError(w http.ResponseWriter, r *http.Request, code int, message string) {
	render.Status(r, code)
	render.JSON(w, r, struct {
		Error string `json:"error"`
	}{Error: message})
}

package account

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/tendant/simple-membership/pkg/token"
)

// Handler handles HTTP requests for account management.
type Handler struct {
	accountService *AccountService
	tokenService   *token.Service
}

// NewHandler creates a new account handler. tokenService may be nil, in which
// case login responses carry no token.
func NewHandler(accountService *AccountService, tokenService *token.Service) *Handler {
	return &Handler{
		accountService: accountService,
		tokenService:   tokenService,
	}
}

// RegisterRoutes registers the account routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{username}", h.Get)
		r.Put("/{username}", h.Update)
		r.Delete("/{username}", h.Delete)
		r.Put("/{username}/password", h.ChangePassword)
		r.Post("/{username}/password/reset", h.ResetPassword)
	})
	r.Post("/login", h.Login)
}

// AccountResponse is the API view of an account, without the credential
// fields.
type AccountResponse struct {
	Key         string     `json:"key"`
	Tenant      string     `json:"tenant"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name,omitempty"`
	Approved    bool       `json:"approved"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	Roles       []string   `json:"roles"`
}

func toResponse(acct Account) AccountResponse {
	var resp AccountResponse
	copier.Copy(&resp, &acct)
	return resp
}

type createRequest struct {
	Tenant   string `json:"tenant"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Approved bool   `json:"approved"`
}

// Create handles account registration.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" {
		renderError(w, r, http.StatusBadRequest, "username and email are required")
		return
	}

	var params CreateAccountParams
	copier.Copy(&params, &req)

	acct, err := h.accountService.Create(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrDuplicateEmail):
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			renderError(w, r, http.StatusBadRequest, err.Error())
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResponse(acct))
}

type loginRequest struct {
	Tenant   string `json:"tenant"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token,omitempty"`
}

// Login authenticates and, when a token service is configured, returns a
// session token. The last-login timestamp is updated on success.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.accountService.Authenticate(r.Context(), req.Tenant, req.Username, req.Password, true)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	if !ok {
		renderError(w, r, http.StatusUnauthorized, "invalid username or password")
		return
	}

	var resp loginResponse
	if h.tokenService != nil {
		acct, err := h.accountService.Get(r.Context(), req.Tenant, req.Username)
		if err != nil {
			renderError(w, r, http.StatusInternalServerError, "login failed")
			return
		}
		resp.Token, err = h.tokenService.Create(acct.Tenant, acct.Username, acct.Roles)
		if err != nil {
			renderError(w, r, http.StatusInternalServerError, "login failed")
			return
		}
	}
	render.JSON(w, r, resp)
}

// Get returns one account.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accountService.Get(r.Context(), r.URL.Query().Get("tenant"), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			renderError(w, r, http.StatusNotFound, "account not found")
			return
		}
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, toResponse(acct))
}

// List returns one page of a tenant's accounts, optionally filtered by exact
// username or email.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	pageIndex := intParam(r, "page", 0)
	pageSize := intParam(r, "page_size", 20)

	var accounts []Account
	var total int
	var err error
	switch {
	case r.URL.Query().Get("username") != "":
		accounts, total, err = h.accountService.FindByUsername(r.Context(), tenant, r.URL.Query().Get("username"), pageIndex, pageSize)
	case r.URL.Query().Get("email") != "":
		accounts, total, err = h.accountService.FindByEmail(r.Context(), tenant, r.URL.Query().Get("email"), pageIndex, pageSize)
	default:
		accounts, total, err = h.accountService.All(r.Context(), tenant, pageIndex, pageSize)
	}
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]AccountResponse, 0, len(accounts))
	for _, acct := range accounts {
		responses = append(responses, toResponse(acct))
	}
	render.JSON(w, r, struct {
		Accounts []AccountResponse `json:"accounts"`
		Total    int               `json:"total"`
	}{Accounts: responses, Total: total})
}

type updateRequest struct {
	Tenant      string     `json:"tenant"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Approved    bool       `json:"approved"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// Update applies the updatable provider fields to an account.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	var params UpdateAccountParams
	copier.Copy(&params, &req)
	params.Username = chi.URLParam(r, "username")

	if err := h.accountService.Update(r.Context(), params); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			renderError(w, r, http.StatusNotFound, "account not found")
		case errors.Is(err, ErrDuplicateEmail):
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}
	render.NoContent(w, r)
}

// Delete removes an account. Deletion is best effort; failure reports 404.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.accountService.Delete(r.Context(), r.URL.Query().Get("tenant"), chi.URLParam(r, "username")) {
		renderError(w, r, http.StatusNotFound, "account could not be deleted")
		return
	}
	render.NoContent(w, r)
}

type changePasswordRequest struct {
	Tenant      string `json:"tenant"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword re-authenticates with the old password before setting the
// new one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.accountService.ChangePassword(r.Context(), req.Tenant, chi.URLParam(r, "username"), req.OldPassword, req.NewPassword)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		renderError(w, r, http.StatusUnauthorized, "invalid username or old password")
		return
	}
	render.NoContent(w, r)
}

// ResetPassword generates a new password and returns it. When a reset
// notifier is configured the plaintext is also mailed to the account owner.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	newPw, err := h.accountService.ResetPassword(r.Context(), r.URL.Query().Get("tenant"), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			renderError(w, r, http.StatusNotFound, "account not found")
			return
		}
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, struct {
		Password string `json:"password"`
	}{Password: newPw})
}

func renderError(w http.ResponseWriter, r *http.Request, code int, message string) {
	render.Status(r, code)
	render.JSON(w, r, struct {
		Error string `json:"error"`
	}{Error: message})
}

func intParam(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

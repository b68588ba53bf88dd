package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxUserBodySize = 16 * 1024

// UserHandlers exposes registration, sign-in, profile and account administration endpoints.
type UserHandlers struct {
	authn        *auth.Authenticator
	users        services.UserService
	loginLimiter RateLimiter
}

// UserHandlerOption customises UserHandlers.
type UserHandlerOption func(*UserHandlers)

// WithLoginRateLimiter throttles login attempts per client IP and email.
func WithLoginRateLimiter(limiter RateLimiter) UserHandlerOption {
	return func(h *UserHandlers) {
		h.loginLimiter = limiter
	}
}

// NewUserHandlers constructs user handlers.
func NewUserHandlers(authn *auth.Authenticator, users services.UserService, opts ...UserHandlerOption) *UserHandlers {
	h := &UserHandlers{authn: authn, users: users}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Group(func(profile chi.Router) {
		if h.authn != nil {
			profile.Use(h.authn.RequireAuth(domain.RoleUser))
		}
		profile.Get("/profile", h.getProfile)
		profile.Put("/profile", h.updateProfile)
	})
}

// AdminRoutes wires the superAdmin account management endpoints under /admin/users.
func (h *UserHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleSuperAdmin))
	}
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Put("/{userId}", h.updateUser)
	r.Delete("/{userId}", h.deleteUser)
}

// InternalRoutes wires the out-of-band role provisioning endpoint. The caller mounts it behind OIDC.
func (h *UserHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/users/{userId}/role", h.assignRole)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type userPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsAdmin   bool   `json:"isAdmin"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type authResponse struct {
	User      userPayload `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expiresAt"`
}

func buildUserPayload(user services.User) userPayload {
	return userPayload{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		IsAdmin:   domain.IsAdmin(user.Role),
		CreatedAt: formatTime(user.CreatedAt),
		UpdatedAt: formatTime(user.UpdatedAt),
	}
}

func buildAuthResponse(result services.AuthResult) authResponse {
	return authResponse{
		User:      buildUserPayload(result.User),
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (h *UserHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	var req registerRequest
	if !decodeJSONBody(w, r, maxUserBodySize, &req) {
		return
	}
	result, err := h.users.Register(ctx, services.RegisterCommand{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildAuthResponse(result))
}

func (h *UserHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	var req loginRequest
	if !decodeJSONBody(w, r, maxUserBodySize, &req) {
		return
	}
	if h.loginLimiter != nil && !h.loginLimiter.Allow(ctx, clientIP(r)+"|"+strings.TrimSpace(req.Email)) {
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many login attempts; try again later", http.StatusTooManyRequests))
		return
	}
	result, err := h.users.Login(ctx, services.LoginCommand{Email: req.Email, Password: req.Password})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAuthResponse(result))
}

func (h *UserHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	caller := auth.PrincipalFromContext(ctx)
	if caller.Anonymous() {
		writeUnauthenticated(ctx, w)
		return
	}
	user, err := h.users.GetProfile(ctx, caller)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *UserHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	caller := auth.PrincipalFromContext(ctx)
	if caller.Anonymous() {
		writeUnauthenticated(ctx, w)
		return
	}
	var req updateProfileRequest
	if !decodeJSONBody(w, r, maxUserBodySize, &req) {
		return
	}
	user, err := h.users.UpdateProfile(ctx, caller, services.UpdateProfileCommand{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	page, err := h.users.ListUsers(ctx, auth.PrincipalFromContext(ctx), pager)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page, buildUserPayload))
}

func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	var req createUserRequest
	if !decodeJSONBody(w, r, maxUserBodySize, &req) {
		return
	}
	user, err := h.users.CreateUser(ctx, auth.PrincipalFromContext(ctx), services.CreateUserCommand{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildUserPayload(user))
}

func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	var req updateUserRequest
	if !decodeJSONBody(w, r, maxUserBodySize, &req) {
		return
	}
	user, err := h.users.UpdateUser(ctx, auth.PrincipalFromContext(ctx), services.UpdateUserCommand{
		UserID: chi.URLParam(r, "userId"),
		Name:   req.Name,
		Email:  req.Email,
		Role:   req.Role,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *UserHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	if err := h.users.DeleteUser(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "userId")); err != nil {
		writeUserError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeServiceUnavailable(ctx, w, "user")
		return
	}
	var req assignRoleRequest
	if !decodeJSONBody(w, r, maxUserBodySize, &req) {
		return
	}
	user, err := h.users.AssignRole(ctx, chi.URLParam(r, "userId"), domain.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "invalid email or password", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserConflict):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "email already registered", http.StatusConflict))
	case errors.Is(err, services.ErrUserUnavailable):
		writeServiceUnavailable(ctx, w, "user")
	default:
		writeUnexpectedError(ctx, w, "user_error", err)
	}
}

// clientIP returns the remote address without port. middleware.RealIP has already applied proxy headers.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

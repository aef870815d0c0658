package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/authkit/credential-session-service/internal/http/response"
	"github.com/authkit/credential-session-service/internal/service"
)

// AdminHandler exposes the account administration surface. Every route is
// behind the superuser gate.
type AdminHandler struct {
	users *service.UserService
}

func NewAdminHandler(users *service.UserService) *AdminHandler {
	return &AdminHandler{users: users}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := service.UserListInput{Email: normalizeEmail(q.Get("email"))}
	if v := q.Get("page"); v != "" {
		in.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		in.PageSize, _ = strconv.Atoi(v)
	}
	if v := q.Get("verified"); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "verified must be a boolean", nil)
			return
		}
		in.Verified = &verified
	}

	page, err := h.users.List(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]userProfile, 0, len(page.Items))
	for i := range page.Items {
		views = append(views, profileOf(&page.Items[i]))
	}
	response.JSON(w, r, http.StatusOK, response.Page{
		Items:      views,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalItems: page.Total,
		TotalPages: page.TotalPages,
	})
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, profileOf(user))
}

type adminUpdateUserRequest struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req adminUpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email != nil {
		normalized := normalizeEmail(*req.Email)
		req.Email = &normalized
	}

	user, err := h.users.Update(r.Context(), id, service.UserUpdateInput{
		Username: req.Username,
		Email:    req.Email,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, profileOf(user))
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "user deleted"})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid id", nil)
		return 0, false
	}
	return uint(id), true
}

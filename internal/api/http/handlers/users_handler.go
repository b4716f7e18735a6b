package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/echannelling-auth/internal/api/dto"
	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/service"
	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

// UsersHandler exposes admin user management and the audit trail.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(userService *service.UserService) *UsersHandler {
	return &UsersHandler{users: userService}
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	user, err := h.users.CreateUser(c.UserContext(), p.UserID(), service.CreateUserInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        domain.Role(req.Role),
	}, clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewUserResponse(user))
}

// UpdateStatus handles PATCH /api/users/:id/status.
func (h *UsersHandler) UpdateStatus(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	var req dto.UpdateUserStatusRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	user, err := h.users.SetUserStatus(c.UserContext(), p.UserID(), id, *req.IsActive, clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user))
}

// ListAuditLogs handles GET /api/audit-logs.
func (h *UsersHandler) ListAuditLogs(c *fiber.Ctx) error {
	var q dto.AuditLogQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}

	page, err := h.users.ListAuditLogs(c.UserContext(), q.Page, q.Limit)
	if err != nil {
		return err
	}
	items := make([]dto.AuditLogResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		items = append(items, dto.NewAuditLogResponse(e))
	}
	return data(c, http.StatusOK, dto.AuditLogPage{Items: items, Page: page.Page, Limit: page.Limit, Total: page.Total})
}

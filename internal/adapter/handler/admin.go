package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
)

// AdminHandler renders the back-office pages behind the route guard.
type AdminHandler struct{}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

type pageResponse struct {
	Page string           `json:"page"`
	User *domain.Identity `json:"user"`
}

func (h *AdminHandler) Dashboard(c echo.Context) error {
	return c.JSON(http.StatusOK, pageResponse{Page: "dashboard", User: identityOf(c)})
}

func (h *AdminHandler) Communication(c echo.Context) error {
	return c.JSON(http.StatusOK, pageResponse{Page: "communication", User: identityOf(c)})
}

func (h *AdminHandler) Tasks(c echo.Context) error {
	return c.JSON(http.StatusOK, pageResponse{Page: "tasks", User: identityOf(c)})
}

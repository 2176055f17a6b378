package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
)

// CSRFHeader carries the CSRF token on JSON requests; forms use csrf_token.
const CSRFHeader = "X-CSRF-Token"

// CSRFHandler handles CSRF token requests.
type CSRFHandler struct {
	gen domain.CSRFTokenGenerator
}

// NewCSRFHandler creates a new CSRF handler.
func NewCSRFHandler(gen domain.CSRFTokenGenerator) *CSRFHandler {
	return &CSRFHandler{gen: gen}
}

// csrfResponse represents the CSRF token response.
type csrfResponse struct {
	Data struct {
		CSRFToken string `json:"csrf_token"`
	} `json:"data"`
}

// Handle issues a token bound to the visitor.
func (h *CSRFHandler) Handle(c echo.Context) error {
	token, err := h.gen.Generate(visitorID(c))
	if err != nil {
		return mapDomainError(err)
	}

	resp := csrfResponse{}
	resp.Data.CSRFToken = token
	return c.JSON(http.StatusOK, resp)
}

// Require rejects requests without a token matching the visitor.
func (h *CSRFHandler) Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get(CSRFHeader)
			if token == "" {
				token = c.FormValue("csrf_token")
			}
			if err := h.gen.Verify(visitorID(c), token); err != nil {
				return mapDomainError(err)
			}
			return next(c)
		}
	}
}

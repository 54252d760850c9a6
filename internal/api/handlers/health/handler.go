package health

import (
	"context"
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/thumbnailer/internal/api/respond"
	healthsvc "github.com/aliskhannn/thumbnailer/internal/service/health"
)

type checker interface {
	Check(ctx context.Context) healthsvc.Report
}

// Status is the health response body.
type Status struct {
	Status string   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// Handler serves the health endpoint.
type Handler struct {
	checker checker
}

// NewHandler creates a new Handler.
func NewHandler(c checker) *Handler {
	return &Handler{checker: c}
}

// Check responds 200 when every dependency answers and 500 with the list of
// failures otherwise.
func (h *Handler) Check(c *ginext.Context) {
	report := h.checker.Check(c.Request.Context())
	if !report.Healthy {
		respond.JSON(c, http.StatusInternalServerError, Status{Status: "unhealthy", Errors: report.Errors})
		return
	}

	respond.JSON(c, http.StatusOK, Status{Status: "healthy"})
}

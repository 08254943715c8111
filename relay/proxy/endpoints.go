package proxy

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sashabaranov/go-openai"
)

// modelList is the OpenAI-shaped answer for GET /v1/models.
type modelList struct {
	Object string         `json:"object"`
	Data   []openai.Model `json:"data"`
}

// Models returns the locally-known logical model names. Aggregating across
// upstreams is deliberately not attempted; clients route by logical name and
// this list is the authority on what the relay accepts.
func (h *Handler) Models(c echo.Context) error {
	created := time.Now().Unix()
	list := modelList{Object: "list"}
	for _, name := range h.cfg.ModelNames() {
		list.Data = append(list.Data, openai.Model{
			ID:        name,
			Object:    "model",
			CreatedAt: created,
			OwnedBy:   "memrelay",
		})
	}
	return c.JSON(http.StatusOK, list)
}

// Health reports liveness. No upstream is consulted.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// MemoryRoutingInfo reports which user id the request's headers resolve to,
// without forwarding anything. It is the test oracle for the resolver: no
// upstream call, no body read, no side effects.
func (h *Handler) MemoryRoutingInfo(c echo.Context) error {
	resolution := h.resolver.Resolve(c.Request().Header)
	return c.JSON(http.StatusOK, resolution)
}

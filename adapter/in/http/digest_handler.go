package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailsense/core/domain"
	"mailsense/core/service/digest"
	"mailsense/infra/middleware"
	"mailsense/pkg/apperr"
)

// DigestRequest carries the classified messages for one digest run.
// NowOverride is honored only in test mode; production always uses the
// server clock.
type DigestRequest struct {
	SessionID   string                   `json:"session_id,omitempty"`
	Messages    []domain.ClassifiedEmail `json:"messages"`
	Timezone    string                   `json:"timezone,omitempty"`
	NowOverride string                   `json:"now_override,omitempty"`
}

type DigestHandler struct {
	svc      *digest.Service
	testMode bool
}

func NewDigestHandler(svc *digest.Service, testMode bool) *DigestHandler {
	return &DigestHandler{svc: svc, testMode: testMode}
}

func (h *DigestHandler) Register(group fiber.Router) {
	group.Post("/digest", h.Digest)
}

func (h *DigestHandler) Digest(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return apperr.Unauthorized("")
	}

	var req DigestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("body", "malformed json").WithError(err)
	}

	var now time.Time
	if req.NowOverride != "" {
		if !h.testMode {
			return apperr.InvalidInput("now_override", "only available in test mode")
		}
		parsed, err := time.Parse(time.RFC3339, req.NowOverride)
		if err != nil {
			return apperr.InvalidInput("now_override", "must be RFC3339").WithError(err)
		}
		now = parsed
	}

	dto, err := h.svc.Run(c.Context(), &digest.Request{
		UserID:    userID,
		SessionID: req.SessionID,
		Messages:  req.Messages,
		Timezone:  req.Timezone,
		Now:       now,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto)
}

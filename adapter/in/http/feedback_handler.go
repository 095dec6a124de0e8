package http

import (
	"github.com/gofiber/fiber/v2"

	"mailsense/core/domain"
	"mailsense/core/service/learning"
	"mailsense/infra/middleware"
	"mailsense/pkg/apperr"
)

// FeedbackRequest is one user correction of a classification.
type FeedbackRequest struct {
	MessageID string                `json:"message_id"`
	From      string                `json:"from"`
	Subject   string                `json:"subject"`
	Original  domain.Classification `json:"original_classification"`
	Corrected domain.Classification `json:"corrected_classification"`
}

// FeedbackResponse reports the recorded correction and, when the second
// supporting correction landed, the promoted rule.
type FeedbackResponse struct {
	CorrectionID   int64  `json:"correction_id"`
	PromotedRuleID *int64 `json:"promoted_rule_id,omitempty"`
}

type FeedbackHandler struct {
	learner *learning.Service
}

func NewFeedbackHandler(learner *learning.Service) *FeedbackHandler {
	return &FeedbackHandler{learner: learner}
}

func (h *FeedbackHandler) Register(group fiber.Router) {
	group.Post("/feedback", h.Submit)
	group.Get("/feedback", h.List)
}

func (h *FeedbackHandler) Submit(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return apperr.Unauthorized("")
	}

	var req FeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("body", "malformed json").WithError(err)
	}

	correctionID, promotedRuleID, err := h.learner.RecordAndLearn(c.Context(), &domain.Correction{
		UserID:    userID,
		MessageID: req.MessageID,
		From:      req.From,
		Subject:   req.Subject,
		Original:  req.Original,
		Corrected: req.Corrected,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(FeedbackResponse{
		CorrectionID:   correctionID,
		PromotedRuleID: promotedRuleID,
	})
}

func (h *FeedbackHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return apperr.Unauthorized("")
	}
	corrections, err := h.learner.ListCorrections(c.Context(), userID, c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"corrections": corrections})
}

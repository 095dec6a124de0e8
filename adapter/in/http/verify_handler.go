package http

import (
	"github.com/gofiber/fiber/v2"

	"mailsense/config"
	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/core/service/classify"
	"mailsense/infra/middleware"
	"mailsense/pkg/apperr"
)

// VerifyRequest asks the verifier to second-guess one classification.
type VerifyRequest struct {
	Email          domain.InboundEmail   `json:"email"`
	Classification domain.Classification `json:"classification"`
}

// VerifyResponse is the verifier's judgement.
type VerifyResponse struct {
	Verdict    string                 `json:"verdict"`
	Confidence float64                `json:"confidence"`
	Correction *domain.Classification `json:"correction,omitempty"`
}

type VerifyHandler struct {
	llm     out.LLMPort
	breaker classify.Breaker
	runtime *config.Runtime
}

func NewVerifyHandler(llm out.LLMPort, breaker classify.Breaker, runtime *config.Runtime) *VerifyHandler {
	return &VerifyHandler{llm: llm, breaker: breaker, runtime: runtime}
}

func (h *VerifyHandler) Register(group fiber.Router) {
	group.Post("/verify", h.Verify)
}

func (h *VerifyHandler) Verify(c *fiber.Ctx) error {
	if userID := middleware.UserID(c); userID == "" {
		return apperr.Unauthorized("")
	}
	if !h.runtime.FeatureEnabled(config.FeatureVerifier) {
		return apperr.Forbidden("verifier is disabled")
	}

	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("body", "malformed json").WithError(err)
	}
	if req.Email.ID == "" {
		return apperr.InvalidInput("email.id", "required")
	}
	if err := req.Classification.Validate(); err != nil {
		return apperr.InvalidInput("classification", err.Error()).WithError(err)
	}

	var verdict *out.VerifyVerdict
	err := h.breaker.Execute(c.Context(), func() error {
		var callErr error
		verdict, callErr = h.llm.VerifyClassification(c.Context(), &req.Email, &req.Classification)
		return callErr
	})
	if err != nil {
		return err
	}
	return c.JSON(VerifyResponse{
		Verdict:    verdict.Verdict,
		Confidence: verdict.Confidence,
		Correction: verdict.Correction,
	})
}

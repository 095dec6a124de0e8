package http

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"mailsense/config"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// RuleCacheInvalidator drops a user's cached rule snapshot after an admin
// deletion.
type RuleCacheInvalidator interface {
	Invalidate(userID string)
}

// AdminHandler serves the operator surface: rule inspection and removal,
// feature gate flips, and the confidence policy readout. Gate flips apply to
// the current process only.
type AdminHandler struct {
	rules   out.RuleRepository
	cache   RuleCacheInvalidator
	runtime *config.Runtime
	logger  zerolog.Logger
}

func NewAdminHandler(rules out.RuleRepository, cache RuleCacheInvalidator, runtime *config.Runtime, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		rules:   rules,
		cache:   cache,
		runtime: runtime,
		logger:  logger.With().Str("component", "admin").Logger(),
	}
}

// Register mounts the admin-only routes.
func (h *AdminHandler) Register(admin fiber.Router) {
	admin.Get("/rules", h.ListRules)
	admin.Delete("/rules/:id", h.DeleteRule)
	admin.Get("/features", h.ListFeatures)
	admin.Post("/features/:name/enable", h.setFeature(true))
	admin.Post("/features/:name/disable", h.setFeature(false))
}

// RegisterConfig mounts the read-only policy endpoint on the authed group.
func (h *AdminHandler) RegisterConfig(group fiber.Router) {
	group.Get("/config/confidence", h.Confidence)
}

func (h *AdminHandler) ListRules(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return apperr.InvalidInput("user_id", "required")
	}
	rules, err := h.rules.ListByUser(c.Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rules": rules})
}

func (h *AdminHandler) DeleteRule(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return apperr.InvalidInput("user_id", "required")
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.InvalidInput("id", "must be an integer")
	}

	if err := h.rules.Delete(c.Context(), userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("rule")
		}
		return err
	}
	if h.cache != nil {
		h.cache.Invalidate(userID)
	}
	h.logger.Info().Str("user_id", userID).Int64("rule_id", id).Msg("rule deleted by admin")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) ListFeatures(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"features": h.runtime.Features()})
}

func (h *AdminHandler) setFeature(enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		if err := h.runtime.SetFeature(name, enabled); err != nil {
			return apperr.InvalidInput("name", err.Error())
		}
		h.logger.Info().Str("feature", name).Bool("enabled", enabled).Msg("feature gate changed")
		return c.JSON(fiber.Map{"feature": name, "enabled": enabled})
	}
}

// Confidence exposes the live thresholds so callers can explain gate
// decisions without guessing at server config.
func (h *AdminHandler) Confidence(c *fiber.Ctx) error {
	pol := h.runtime.Policy()
	return c.JSON(fiber.Map{
		"min_type_conf":         pol.MinTypeConf,
		"domain_gate":           pol.DomainGate,
		"attention_gate":        pol.AttentionGate,
		"learning_min_conf":     pol.LearningMinConf,
		"verifier_trigger_lo":   pol.VerifierTriggerLo,
		"verifier_trigger_hi":   pol.VerifierTriggerHi,
		"verifier_accept_delta": pol.VerifierAcceptDelta,
	})
}

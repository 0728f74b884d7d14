package eventhandler

import (
	"log/slog"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROMOTION CANDIDATES HANDLER
// Announces promotion candidates to the officer log. Promotions are applied
// by hand, so the announcement is the actionable output: one line per
// candidate, with unverifiable join dates called out for manual review.
// ═══════════════════════════════════════════════════════════════════════════

// OnPromotionCandidatesHandler reacts to the promotion.candidates_found event.
type OnPromotionCandidatesHandler struct {
	logger *slog.Logger
	config PromotionCandidatesConfig
}

// PromotionCandidatesConfig contains the handler configuration.
type PromotionCandidatesConfig struct {
	// AnnounceEach logs one line per candidate. Disabled leaves only the
	// per-transition summary.
	AnnounceEach bool

	// MaxAnnounced caps per-candidate lines for pathological lists.
	MaxAnnounced int
}

// DefaultPromotionCandidatesConfig returns the default configuration.
func DefaultPromotionCandidatesConfig() PromotionCandidatesConfig {
	return PromotionCandidatesConfig{
		AnnounceEach: true,
		MaxAnnounced: 50,
	}
}

// NewOnPromotionCandidatesHandler creates a new candidate announcement handler.
func NewOnPromotionCandidatesHandler(
	logger *slog.Logger,
	config PromotionCandidatesConfig,
) *OnPromotionCandidatesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAnnounced == 0 {
		config.MaxAnnounced = DefaultPromotionCandidatesConfig().MaxAnnounced
	}

	return &OnPromotionCandidatesHandler{
		logger: logger.With("handler", "on_promotion_candidates"),
		config: config,
	}
}

// Handle processes the promotion candidates event.
func (h *OnPromotionCandidatesHandler) Handle(event shared.Event) error {
	candEvent, ok := event.(shared.PromotionCandidatesFoundEvent)
	if !ok {
		h.logger.Warn("received non-PromotionCandidatesFoundEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	// 1. Per-transition summary.
	h.logger.Info("promotion candidates found",
		"run_id", candEvent.RunID,
		"transition", candEvent.Transition,
		"clear", len(candEvent.Clear),
		"needs_review", len(candEvent.NeedsReview),
	)

	if !h.config.AnnounceEach {
		return nil
	}

	// 2. One line per candidate, review cases flagged loudly.
	announced := 0
	for _, ign := range candEvent.Clear {
		if announced >= h.config.MaxAnnounced {
			break
		}
		h.logger.Info("promotion candidate",
			"run_id", candEvent.RunID,
			"transition", candEvent.Transition,
			"ign", ign,
		)
		announced++
	}
	for _, ign := range candEvent.NeedsReview {
		if announced >= h.config.MaxAnnounced {
			break
		}
		h.logger.Warn("promotion candidate needs review",
			"run_id", candEvent.RunID,
			"transition", candEvent.Transition,
			"ign", ign,
			"reason", "guild join date never observed in the log",
		)
		announced++
	}

	remaining := len(candEvent.Clear) + len(candEvent.NeedsReview) - announced
	if remaining > 0 {
		h.logger.Info("additional candidates omitted from log",
			"run_id", candEvent.RunID,
			"transition", candEvent.Transition,
			"omitted", remaining,
		)
	}

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnPromotionCandidatesHandler) EventType() shared.EventType {
	return shared.EventPromotionCandidatesFound
}

package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON DIRECTORY STALE HANDLER
// Surfaces stale input warnings. The roster and level directory are exported
// by hand from the guild's spreadsheet, so a stale file means verdicts are
// being computed against an outdated member list. The run proceeds anyway;
// this handler makes sure somebody notices.
// ═══════════════════════════════════════════════════════════════════════════

// OnDirectoryStaleHandler reacts to the directory.stale event.
type OnDirectoryStaleHandler struct {
	logger *slog.Logger
	config DirectoryStaleConfig

	mu         sync.Mutex
	lastWarned map[string]time.Time
}

// DirectoryStaleConfig contains the handler configuration.
type DirectoryStaleConfig struct {
	// SuppressWindow drops repeat warnings for the same directory within
	// this window, so a stale file warns once per day rather than once
	// per run. Zero disables suppression.
	SuppressWindow time.Duration
}

// DefaultDirectoryStaleConfig returns the default configuration.
func DefaultDirectoryStaleConfig() DirectoryStaleConfig {
	return DirectoryStaleConfig{
		SuppressWindow: 20 * time.Hour,
	}
}

// NewOnDirectoryStaleHandler creates a new stale directory handler.
func NewOnDirectoryStaleHandler(
	logger *slog.Logger,
	config DirectoryStaleConfig,
) *OnDirectoryStaleHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnDirectoryStaleHandler{
		logger:     logger.With("handler", "on_directory_stale"),
		config:     config,
		lastWarned: make(map[string]time.Time),
	}
}

// Handle processes the stale directory event.
func (h *OnDirectoryStaleHandler) Handle(event shared.Event) error {
	staleEvent, ok := event.(shared.DirectoryStaleEvent)
	if !ok {
		h.logger.Warn("received non-DirectoryStaleEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	if h.suppressed(staleEvent.Directory) {
		h.logger.Debug("stale warning suppressed",
			"directory", staleEvent.Directory,
		)
		return nil
	}

	h.logger.Warn("input directory is stale",
		"directory", staleEvent.Directory,
		"last_updated", staleEvent.LastUpdated,
		"age", staleEvent.Age,
		"action", "re-export before the next run or verdicts will miss roster changes",
	)

	return nil
}

// suppressed records the warning time and reports whether an earlier warning
// for the same directory is still fresh.
func (h *OnDirectoryStaleHandler) suppressed(directory string) bool {
	if h.config.SuppressWindow <= 0 {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if last, ok := h.lastWarned[directory]; ok && now.Sub(last) < h.config.SuppressWindow {
		return true
	}
	h.lastWarned[directory] = now
	return false
}

// EventType returns the event type this handler processes.
func (h *OnDirectoryStaleHandler) EventType() shared.EventType {
	return shared.EventDirectoryStale
}

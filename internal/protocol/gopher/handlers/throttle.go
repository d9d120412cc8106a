package handlers

import (
	"fmt"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// Throttle policies applied to sessions over their hit or traffic limits.
const (
	ThrottleOff   = "off"
	ThrottleDelay = "delay"
	ThrottleDeny  = "deny"
)

// DefaultThrottleDelay is the pause used by the delay policy when none is
// configured.
const DefaultThrottleDelay = time.Second

// ThrottleConfig selects what happens to a session over its limits.
type ThrottleConfig struct {
	// Policy is one of off, delay or deny. Empty means off.
	Policy string `mapstructure:"policy" validate:"omitempty,oneof=off delay deny" yaml:"policy"`

	// Delay is how long the delay policy holds each request.
	Delay time.Duration `mapstructure:"delay" validate:"omitempty,gte=0" yaml:"delay"`
}

// throttle enforces the configured policy for a session slot returned by
// the store. A nil slot is never throttled.
func (h *Handler) throttle(rc *types.RequestContext, slot *session.Slot) error {
	if h.deps.Store == nil || slot == nil {
		return nil
	}
	policy := h.cfg.Throttle.Policy
	if policy == "" || policy == ThrottleOff {
		return nil
	}
	if !h.deps.Store.Limits().Exceeded(slot) {
		return nil
	}

	h.deps.Metrics.RecordThrottled(policy)

	switch policy {
	case ThrottleDeny:
		logger.Info("Denying %s: %d hits, %d KB this session", rc.RemoteAddr, slot.Hits, slot.KBytes)
		return types.NewError(types.ErrAccessDenied,
			fmt.Sprintf("session limits exceeded (%d hits, %d KB)", slot.Hits, slot.KBytes))

	case ThrottleDelay:
		delay := h.cfg.Throttle.Delay
		if delay <= 0 {
			delay = DefaultThrottleDelay
		}
		logger.Debug("Delaying %s by %s", rc.RemoteAddr, delay)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-rc.Context.Done():
			return fmt.Errorf("throttle delay: %w", rc.Context.Err())
		}
	}
	return nil
}

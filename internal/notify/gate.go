// Package notify decides which subscribers hear about an event and hands the
// resulting notifications to a delivery sink.
package notify

import (
	"fmt"
	"math"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geomath"
)

// IsEligible reports whether ev should be delivered to the subscriber:
// notifications are enabled, the magnitude reaches MinMagnitude, and when a
// watch location is set the epicenter lies within WatchRadiusKm of it.
// An invalid configuration is never eligible.
func IsEligible(ev domain.SeismicEvent, cfg domain.SubscriberConfig) bool {
	if Validate(cfg) != nil {
		return false
	}
	if !cfg.NotificationsEnabled {
		return false
	}
	if ev.Magnitude < cfg.MinMagnitude {
		return false
	}
	if cfg.WatchLocation != nil {
		return geomath.Within(*cfg.WatchLocation, ev.Epicenter, cfg.WatchRadiusKm)
	}
	return true
}

// Validate returns an error wrapping domain.ErrConfiguration if cfg cannot be evaluated.
func Validate(cfg domain.SubscriberConfig) error {
	if math.IsNaN(cfg.MinMagnitude) {
		return fmt.Errorf("%w: subscriber %q: min magnitude is NaN", domain.ErrConfiguration, cfg.SubscriberID)
	}
	if math.IsNaN(cfg.WatchRadiusKm) || cfg.WatchRadiusKm < 0 {
		return fmt.Errorf("%w: subscriber %q: watch radius %v", domain.ErrConfiguration, cfg.SubscriberID, cfg.WatchRadiusKm)
	}
	if cfg.WatchLocation != nil && !cfg.WatchLocation.Valid() {
		return fmt.Errorf("%w: subscriber %q: watch location out of range", domain.ErrConfiguration, cfg.SubscriberID)
	}
	return nil
}

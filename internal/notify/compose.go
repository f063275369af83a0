package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/geomath"
)

// Compose builds the notification for one subscriber. Distance and direction
// are relative to the watch location when one is set.
func Compose(ev domain.SeismicEvent, cfg domain.SubscriberConfig, now time.Time) domain.Notification {
	var body strings.Builder
	fmt.Fprintf(&body, "Magnitude %.1f at depth %.1f km", ev.Magnitude, ev.DepthKm)
	if cfg.WatchLocation != nil {
		dist := geomath.DistanceKm(*cfg.WatchLocation, ev.Epicenter)
		dir := geomath.Compass(geomath.BearingDeg(*cfg.WatchLocation, ev.Epicenter))
		fmt.Fprintf(&body, ", %.1f km %s of your watch location", dist, dir)
	} else {
		fmt.Fprintf(&body, " near %s", describe(ev))
	}
	if ev.TsunamiFlag {
		body.WriteString(". Tsunami possible.")
	}

	return domain.Notification{
		ID:           uuid.NewString(),
		SubscriberID: cfg.SubscriberID,
		EventID:      ev.ID,
		Title:        fmt.Sprintf("M%.1f earthquake", ev.Magnitude),
		Body:         body.String(),
		Epicenter:    ev.Epicenter,
		Magnitude:    ev.Magnitude,
		CreatedAt:    now.UTC(),
	}
}

func describe(ev domain.SeismicEvent) string {
	if ev.Place != "" {
		return ev.Place
	}
	return fmt.Sprintf("%.3f, %.3f", ev.Epicenter.Lat, ev.Epicenter.Lng)
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// eventMessageType is the feed message type carrying an earthquake.
// Any other non-empty type is a control message.
const eventMessageType = "earthquake"

// feedMessage accepts both the canonical field names and the legacy
// dashboard shape (location/time/depth/tsunami).
type feedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`

	Magnitude *float64 `json:"magnitude"`

	Epicenter *Geo            `json:"epicenter"`
	Location  *legacyLocation `json:"location"`

	DepthKm *float64 `json:"depthKm"`
	Depth   *float64 `json:"depth"`

	OccurredAt json.RawMessage `json:"occurredAt"`
	Time       json.RawMessage `json:"time"`

	TsunamiFlag json.RawMessage `json:"tsunamiFlag"`
	Tsunami     json.RawMessage `json:"tsunami"`

	Place string `json:"place"`
}

type legacyLocation struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Place string  `json:"place"`
}

// ParseFeedMessage decodes one upstream feed message. It returns ok=false with
// a nil error for control messages. Any decoding or validation failure wraps
// ErrMalformedMessage. Event times later than now+maxFutureSkew are clamped to now.
func ParseFeedMessage(data []byte, maxFutureSkew time.Duration) (SeismicEvent, bool, error) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SeismicEvent{}, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if msg.Type != "" && msg.Type != eventMessageType {
		return SeismicEvent{}, false, nil
	}

	event, err := msg.toEvent()
	if err != nil {
		return SeismicEvent{}, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	event.OccurredAt = ClampFuture(event.OccurredAt, Now(), maxFutureSkew)
	return event, true, nil
}

func (m feedMessage) toEvent() (SeismicEvent, error) {
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return SeismicEvent{}, fmt.Errorf("missing id")
	}
	if m.Magnitude == nil || math.IsNaN(*m.Magnitude) || math.IsInf(*m.Magnitude, 0) {
		return SeismicEvent{}, fmt.Errorf("event %s: missing or non-finite magnitude", id)
	}

	var epicenter Geo
	place := m.Place
	switch {
	case m.Epicenter != nil:
		epicenter = *m.Epicenter
	case m.Location != nil:
		epicenter = Geo{Lat: m.Location.Lat, Lng: m.Location.Lng}
		if place == "" {
			place = m.Location.Place
		}
	default:
		return SeismicEvent{}, fmt.Errorf("event %s: missing epicenter", id)
	}
	if !epicenter.Valid() {
		return SeismicEvent{}, fmt.Errorf("event %s: epicenter out of range (%g, %g)", id, epicenter.Lat, epicenter.Lng)
	}

	depth := firstFloat(m.DepthKm, m.Depth)
	if depth < 0 || math.IsNaN(depth) {
		return SeismicEvent{}, fmt.Errorf("event %s: negative depth %g", id, depth)
	}

	rawTime := m.OccurredAt
	if len(rawTime) == 0 {
		rawTime = m.Time
	}
	occurredAt, err := parseInstant(rawTime)
	if err != nil {
		return SeismicEvent{}, fmt.Errorf("event %s: %w", id, err)
	}

	rawTsunami := m.TsunamiFlag
	if len(rawTsunami) == 0 {
		rawTsunami = m.Tsunami
	}

	return SeismicEvent{
		ID:          id,
		Magnitude:   *m.Magnitude,
		Epicenter:   epicenter,
		DepthKm:     depth,
		OccurredAt:  occurredAt,
		TsunamiFlag: parseFlag(rawTsunami),
		Place:       place,
	}, nil
}

// parseInstant accepts an RFC 3339 string or epoch milliseconds (the USGS convention).
func parseInstant(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing occurrence time")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
		return t.UTC(), nil
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch time %s: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// parseFlag reads a boolean or a 0/1 integer. Anything else is false.
func parseFlag(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "true", "1":
		return true
	}
	return false
}

func firstFloat(values ...*float64) float64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

// ClampFuture pulls timestamps more than maxSkew ahead of now back to now.
// A non-positive maxSkew disables clamping.
func ClampFuture(t, now time.Time, maxSkew time.Duration) time.Time {
	if maxSkew <= 0 {
		return t
	}
	if t.After(now.Add(maxSkew)) {
		return now
	}
	return t
}

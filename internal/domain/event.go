package domain

import (
	"math"
	"time"
)

// Geo represents a WGS-84 latitude/longitude coordinate pair in degrees.
type Geo struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within the WGS-84 bounds.
func (g Geo) Valid() bool {
	return !math.IsNaN(g.Lat) && !math.IsNaN(g.Lng) &&
		g.Lat >= -90 && g.Lat <= 90 &&
		g.Lng >= -180 && g.Lng <= 180
}

// SeismicEvent is an immutable earthquake record. Identity is ID: a later
// arrival with the same ID replaces the earlier record.
type SeismicEvent struct {
	ID          string    `json:"id"`
	Magnitude   float64   `json:"magnitude"`
	Epicenter   Geo       `json:"epicenter"`
	DepthKm     float64   `json:"depthKm"`
	OccurredAt  time.Time `json:"occurredAt"`
	TsunamiFlag bool      `json:"tsunamiFlag"`
	Place       string    `json:"place,omitempty"`
}

// InsertResult distinguishes a fresh insert from a replacement of an existing ID.
type InsertResult int

const (
	Inserted InsertResult = iota
	Replaced
)

func (r InsertResult) String() string {
	if r == Replaced {
		return "replaced"
	}
	return "inserted"
}

// TimeRange is the half-open interval (From, To]. A zero To is unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !t.After(r.From) {
		return false
	}
	return r.To.IsZero() || !t.After(r.To)
}

// GeoFilter restricts a query to events within RadiusKm of Center.
type GeoFilter struct {
	Center   Geo
	RadiusKm float64
}

// RegionProfile is static configuration for a scored region.
type RegionProfile struct {
	Name              string   `json:"name" yaml:"name"`
	Center            Geo      `json:"center" yaml:"center"`
	RadiusKm          float64  `json:"radiusKm" yaml:"radius_km"`
	StaticRiskFactors []string `json:"staticRiskFactors" yaml:"risk_factors"`
}

// SubscriberConfig is one subscriber's notification preferences. The core
// treats it as an immutable snapshot per evaluation.
type SubscriberConfig struct {
	SubscriberID         string  `json:"subscriberId" yaml:"id"`
	NotificationsEnabled bool    `json:"notificationsEnabled" yaml:"notifications_enabled"`
	MinMagnitude         float64 `json:"minMagnitude" yaml:"min_magnitude"`
	WatchLocation        *Geo    `json:"watchLocation,omitempty" yaml:"watch_location,omitempty"`
	WatchRadiusKm        float64 `json:"watchRadiusKm" yaml:"watch_radius_km"`
}

// RollingWindowStat summarizes the events inside a sliding window.
type RollingWindowStat struct {
	Count            int           `json:"count"`
	AverageMagnitude float64       `json:"averageMagnitude"`
	MaxMagnitude     float64       `json:"maxMagnitude"`
	Window           time.Duration `json:"window"`
	ComputedAt       time.Time     `json:"computedAt"`
	AlertStatus      AlertStatus   `json:"alertStatus"`
}

// AlertStatus is the dashboard banner level derived from the 24h window.
type AlertStatus string

const (
	AlertNormal   AlertStatus = "normal"
	AlertModerate AlertStatus = "moderate"
	AlertHigh     AlertStatus = "high"
)

// RiskLevel is the ordinal severity of a RiskScore.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskModerate
	RiskHigh
	RiskCritical
)

var riskLevelNames = [...]string{"low", "moderate", "high", "critical"}

func (l RiskLevel) String() string {
	if l < RiskLow || l > RiskCritical {
		return "unknown"
	}
	return riskLevelNames[l]
}

// MarshalText encodes the level by name.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LevelForScore maps a score to its level. Boundaries round down:
// a score of exactly 80 is high, not critical.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score > 80:
		return RiskCritical
	case score > 60:
		return RiskHigh
	case score > 40:
		return RiskModerate
	default:
		return RiskLow
	}
}

// RiskScore is the derived risk for one region.
type RiskScore struct {
	Region       string    `json:"region"`
	Score        float64   `json:"score"`
	Level        RiskLevel `json:"level"`
	SampleSize   int       `json:"sampleSize"`
	AvgMagnitude float64   `json:"avgMagnitude"`
	ComputedAt   time.Time `json:"computedAt"`
}

// Notification is the payload handed to the delivery collaborator.
type Notification struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriberId"`
	EventID      string    `json:"eventId"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Epicenter    Geo       `json:"epicenter"`
	Magnitude    float64   `json:"magnitude"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CatalogQuery is a request to the historical catalog collaborator.
type CatalogQuery struct {
	WindowStart  time.Time
	WindowEnd    time.Time
	Center       *Geo
	RadiusKm     float64
	MinMagnitude float64
}

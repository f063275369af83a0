package http

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

const (
	defaultLookback = 24 * time.Hour
	defaultLimit    = 100
	maxLimit        = 1000
)

type eventQuery struct {
	Range domain.TimeRange
	Geo   *domain.GeoFilter
	Limit int
}

// parseEventQuery reads since, until, lat, lng, radius_km and limit. since
// defaults to 24h before now. The geo filter needs all three of lat, lng and
// radius_km, or none.
func parseEventQuery(v url.Values, now time.Time) (eventQuery, error) {
	q := eventQuery{
		Range: domain.TimeRange{From: now.Add(-defaultLookback)},
		Limit: defaultLimit,
	}

	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid since: %w", err)
		}
		q.Range.From = t.UTC()
	}
	if s := v.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid until: %w", err)
		}
		q.Range.To = t.UTC()
		if !q.Range.To.After(q.Range.From) {
			return q, errors.New("until must be after since")
		}
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxLimit {
			return q, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
		q.Limit = n
	}

	lat, lng, radius := v.Get("lat"), v.Get("lng"), v.Get("radius_km")
	if lat == "" && lng == "" && radius == "" {
		return q, nil
	}
	if lat == "" || lng == "" || radius == "" {
		return q, errors.New("lat, lng and radius_km must be given together")
	}
	var (
		geo  domain.GeoFilter
		errs []error
		err  error
	)
	if geo.Center.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid lat: %w", err))
	}
	if geo.Center.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid lng: %w", err))
	}
	if geo.RadiusKm, err = strconv.ParseFloat(radius, 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid radius_km: %w", err))
	}
	if len(errs) > 0 {
		return q, errors.Join(errs...)
	}
	if !geo.Center.Valid() {
		return q, errors.New("lat/lng out of range")
	}
	if !(geo.RadiusKm >= 0) {
		return q, errors.New("radius_km must be non-negative")
	}
	q.Geo = &geo
	return q, nil
}

// Package usgs queries the USGS FDSN event service for historical earthquakes.
package usgs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// DefaultBaseURL is the public FDSN event query endpoint.
const DefaultBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"

const maxErrorBody = 512

// Client implements the historical catalog collaborator.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a catalog client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// Query returns the catalog events matching q. Failures wrap
// domain.ErrUpstreamUnavailable. Features without a usable id, magnitude,
// time or epicenter are skipped.
func (c *Client) Query(ctx context.Context, q domain.CatalogQuery) ([]domain.SeismicEvent, error) {
	params := url.Values{
		"format":       {"geojson"},
		"orderby":      {"time"},
		"starttime":    {q.WindowStart.UTC().Format(time.RFC3339)},
		"minmagnitude": {formatFloat(q.MinMagnitude)},
	}
	if !q.WindowEnd.IsZero() {
		params.Set("endtime", q.WindowEnd.UTC().Format(time.RFC3339))
	}
	if q.Center != nil {
		params.Set("latitude", formatFloat(q.Center.Lat))
		params.Set("longitude", formatFloat(q.Center.Lng))
		params.Set("maxradiuskm", formatFloat(q.RadiusKm))
	}

	body, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	events, skipped, err := ParseCatalog(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	if skipped > 0 {
		c.logger.Warn("skipped unusable catalog features", "skipped", skipped, "total", len(events)+skipped)
	}
	return events, nil
}

// ParseCatalog decodes an FDSN GeoJSON feature collection. It returns the
// usable events and how many features were skipped.
func ParseCatalog(data []byte) ([]domain.SeismicEvent, int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode catalog: %w", err)
	}

	events := make([]domain.SeismicEvent, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		ev, ok := toEvent(f)
		if !ok {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("catalog API error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// toEvent maps a USGS feature. Coordinates are [lon, lat, depth]; time is
// epoch milliseconds. Negative depths (above sea level) are clamped to zero.
func toEvent(f *geojson.Feature) (domain.SeismicEvent, bool) {
	id, ok := f.ID.(string)
	if !ok || id == "" {
		return domain.SeismicEvent{}, false
	}
	if f.Geometry == nil || !f.Geometry.IsPoint() || len(f.Geometry.Point) < 2 {
		return domain.SeismicEvent{}, false
	}
	mag, err := f.PropertyFloat64("mag")
	if err != nil {
		return domain.SeismicEvent{}, false
	}
	ms, err := f.PropertyFloat64("time")
	if err != nil {
		return domain.SeismicEvent{}, false
	}

	epicenter := domain.Geo{Lat: f.Geometry.Point[1], Lng: f.Geometry.Point[0]}
	if !epicenter.Valid() {
		return domain.SeismicEvent{}, false
	}
	depth := 0.0
	if len(f.Geometry.Point) > 2 {
		depth = max(f.Geometry.Point[2], 0)
	}

	return domain.SeismicEvent{
		ID:          id,
		Magnitude:   mag,
		Epicenter:   epicenter,
		DepthKm:     depth,
		OccurredAt:  time.UnixMilli(int64(ms)).UTC(),
		TsunamiFlag: f.PropertyMustFloat64("tsunami", 0) == 1,
		Place:       f.PropertyMustString("place", ""),
	}, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Package settings loads region profiles and subscriber preferences from YAML
// and serves immutable subscriber snapshots to the notification gate.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/notify"
)

// Subscriber defaults applied when a field is omitted, matching the dashboard settings page.
const (
	DefaultMinMagnitude  = 3.0
	DefaultWatchRadiusKm = 100.0
)

// DefaultRegions are the regions scored when no regions file is configured.
func DefaultRegions() []domain.RegionProfile {
	return []domain.RegionProfile{
		{
			Name:              "Great Rift Valley",
			Center:            domain.Geo{Lat: 8.5, Lng: 39.5},
			RadiusKm:          250,
			StaticRiskFactors: []string{"Active fault lines", "Volcanic activity", "Population density"},
		},
		{
			Name:              "Addis Ababa Metropolitan",
			Center:            domain.Geo{Lat: 9.0, Lng: 38.7},
			RadiusKm:          100,
			StaticRiskFactors: []string{"High population density", "Building vulnerability", "Infrastructure concentration"},
		},
		{
			Name:              "Afar Triangle",
			Center:            domain.Geo{Lat: 11.5, Lng: 40.5},
			RadiusKm:          300,
			StaticRiskFactors: []string{"Triple junction", "Active volcanism", "Crustal thinning"},
		},
		{
			Name:              "Tigray Highlands",
			Center:            domain.Geo{Lat: 13.5, Lng: 39.5},
			RadiusKm:          200,
			StaticRiskFactors: []string{"Moderate fault activity", "Highland terrain", "Rural vulnerability"},
		},
	}
}

type regionsFile struct {
	Regions []domain.RegionProfile `yaml:"regions"`
}

// LoadRegions reads region profiles from path. An empty path returns DefaultRegions.
func LoadRegions(path string) ([]domain.RegionProfile, error) {
	if path == "" {
		return DefaultRegions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	return ParseRegions(data)
}

// ParseRegions decodes and validates a regions document.
func ParseRegions(data []byte) ([]domain.RegionProfile, error) {
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse regions: %w", domain.ErrConfiguration, err)
	}
	if len(f.Regions) == 0 {
		return nil, fmt.Errorf("%w: no regions defined", domain.ErrConfiguration)
	}
	seen := make(map[string]bool, len(f.Regions))
	for i, r := range f.Regions {
		switch {
		case r.Name == "":
			return nil, fmt.Errorf("%w: region %d has no name", domain.ErrConfiguration, i)
		case seen[r.Name]:
			return nil, fmt.Errorf("%w: duplicate region %q", domain.ErrConfiguration, r.Name)
		case !r.Center.Valid():
			return nil, fmt.Errorf("%w: region %q center out of range", domain.ErrConfiguration, r.Name)
		case !(r.RadiusKm > 0):
			return nil, fmt.Errorf("%w: region %q radius must be positive", domain.ErrConfiguration, r.Name)
		}
		seen[r.Name] = true
	}
	return f.Regions, nil
}

type subscribersFile struct {
	Subscribers []subscriberEntry `yaml:"subscribers"`
}

// subscriberEntry uses pointers so omitted fields take the defaults.
type subscriberEntry struct {
	ID                   string      `yaml:"id"`
	NotificationsEnabled *bool       `yaml:"notifications_enabled"`
	MinMagnitude         *float64    `yaml:"min_magnitude"`
	WatchLocation        *domain.Geo `yaml:"watch_location"`
	WatchRadiusKm        *float64    `yaml:"watch_radius_km"`
}

func (e subscriberEntry) config() domain.SubscriberConfig {
	cfg := domain.SubscriberConfig{
		SubscriberID:         e.ID,
		NotificationsEnabled: true,
		MinMagnitude:         DefaultMinMagnitude,
		WatchLocation:        e.WatchLocation,
		WatchRadiusKm:        DefaultWatchRadiusKm,
	}
	if e.NotificationsEnabled != nil {
		cfg.NotificationsEnabled = *e.NotificationsEnabled
	}
	if e.MinMagnitude != nil {
		cfg.MinMagnitude = *e.MinMagnitude
	}
	if e.WatchRadiusKm != nil {
		cfg.WatchRadiusKm = *e.WatchRadiusKm
	}
	return cfg
}

// ParseSubscribers decodes a subscribers document. Entries that fail
// notify.Validate are kept; the gate treats them as never eligible.
func ParseSubscribers(data []byte) ([]domain.SubscriberConfig, error) {
	var f subscribersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse subscribers: %w", domain.ErrConfiguration, err)
	}
	out := make([]domain.SubscriberConfig, 0, len(f.Subscribers))
	seen := make(map[string]bool, len(f.Subscribers))
	for i, e := range f.Subscribers {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: subscriber %d has no id", domain.ErrConfiguration, i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("%w: duplicate subscriber %q", domain.ErrConfiguration, e.ID)
		}
		seen[e.ID] = true
		out = append(out, e.config())
	}
	return out, nil
}

// Provider serves the current subscriber snapshot. Reload swaps the whole
// snapshot atomically, so an evaluation in flight keeps the one it started with.
type Provider struct {
	path     string
	snapshot atomic.Pointer[[]domain.SubscriberConfig]
	logger   *slog.Logger
}

// NewProvider loads subscribers from path. An empty path yields no subscribers.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	p := &Provider{path: path, logger: logger}
	empty := []domain.SubscriberConfig{}
	p.snapshot.Store(&empty)
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Subscribers returns the current snapshot. Callers must not modify it.
func (p *Provider) Subscribers() []domain.SubscriberConfig {
	return *p.snapshot.Load()
}

// Reload re-reads the subscribers file. On error the previous snapshot stays active.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read subscribers file: %w", err)
	}
	subs, err := ParseSubscribers(data)
	if err != nil {
		return err
	}

	var invalid []error
	for _, s := range subs {
		if err := notify.Validate(s); err != nil {
			invalid = append(invalid, err)
		}
	}
	if len(invalid) > 0 {
		p.logger.Warn("subscribers with invalid settings will not be notified", "error", errors.Join(invalid...))
	}

	subs = slices.Clip(subs)
	p.snapshot.Store(&subs)
	p.logger.Info("subscribers loaded", "path", p.path, "count", len(subs))
	return nil
}

// Package loader turns raw station and track records into a network graph.
// Bad records are skipped, never fatal; only a network without any station is
// an error.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/logging"
)

// Defaults for Options.
const (
	DefaultMaxStations = 100
	DefaultMaxTracks   = 200
	DefaultImportance  = 50
	DefaultSpeedLimit  = 80 // km/h
)

var ErrEmptyNetwork = errors.New("no valid stations")

// Options controls record limits and defaults.
type Options struct {
	MaxStations       int     `json:"max_stations" yaml:"max_stations" validate:"gte=0"`
	MaxTracks         int     `json:"max_tracks" yaml:"max_tracks" validate:"gte=0"`
	DefaultImportance float64 `json:"default_importance" yaml:"default_importance" validate:"gte=0"`
	DefaultSpeedLimit float64 `json:"default_speed_limit" yaml:"default_speed_limit" validate:"gt=0"`
	SnapRadiusKM      float64 `json:"snap_radius_km" yaml:"snap_radius_km" validate:"gte=0"` // 0 = unlimited
	CoordsLonLat      bool    `json:"coords_lon_lat" yaml:"coords_lon_lat"`                  // track coords are [lon, lat]
	CacheSize         int     `json:"cache_size" yaml:"cache_size" validate:"gte=0"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxStations:       DefaultMaxStations,
		MaxTracks:         DefaultMaxTracks,
		DefaultImportance: DefaultImportance,
		DefaultSpeedLimit: DefaultSpeedLimit,
		CacheSize:         DefaultCacheSize,
	}
}

// Stats counts what happened to the input records.
type Stats struct {
	Stations        int `json:"stations"`
	Tracks          int `json:"tracks"`
	SkippedStations int `json:"skipped_stations"`
	SkippedTracks   int `json:"skipped_tracks"`
	Truncated       int `json:"truncated"`
}

// Network is the typed result of a load.
type Network struct {
	Stations []graph.Station
	Tracks   []graph.Track
	Stats    Stats
}

// Graph builds the routing graph of the network.
func (n Network) Graph() *graph.Graph { return graph.New(n.Stations, n.Tracks) }

// Loader converts raw records. It is not safe for concurrent use.
type Loader struct {
	opts       Options
	newLocator LocatorFactory
	cache      *Cache
	validate   *validator.Validate
	logger     *slog.Logger
}

// New returns a Loader. A nil locator factory selects Grid(opts.SnapRadiusKM),
// a nil cache gets a fresh one of opts.CacheSize and a nil logger discards.
func New(opts Options, locator LocatorFactory, cache *Cache, logger *slog.Logger) *Loader {
	d := DefaultOptions()
	if opts.MaxStations == 0 {
		opts.MaxStations = d.MaxStations
	}
	if opts.MaxTracks == 0 {
		opts.MaxTracks = d.MaxTracks
	}
	if opts.DefaultImportance == 0 {
		opts.DefaultImportance = d.DefaultImportance
	}
	if opts.DefaultSpeedLimit == 0 {
		opts.DefaultSpeedLimit = d.DefaultSpeedLimit
	}
	if locator == nil {
		locator = Grid(opts.SnapRadiusKM)
	}
	if cache == nil {
		cache = NewCache(opts.CacheSize)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader{
		opts:       opts,
		newLocator: locator,
		cache:      cache,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Cache returns the loader's coordinate cache.
func (l *Loader) Cache() *Cache { return l.cache }

// Load converts station and track records. At most MaxStations and MaxTracks
// records are considered, in input order.
func (l *Loader) Load(stationRecords, trackRecords []map[string]any) (Network, error) {
	var net Network
	// Cached lookups are only valid for the station set they were made against.
	l.cache.Purge()

	if len(stationRecords) > l.opts.MaxStations {
		net.Stats.Truncated += len(stationRecords) - l.opts.MaxStations
		stationRecords = stationRecords[:l.opts.MaxStations]
	}
	if len(trackRecords) > l.opts.MaxTracks {
		net.Stats.Truncated += len(trackRecords) - l.opts.MaxTracks
		trackRecords = trackRecords[:l.opts.MaxTracks]
	}

	seen := make(map[graph.StationID]int, len(stationRecords))
	for i, m := range stationRecords {
		s, err := l.station(m)
		if err != nil {
			net.Stats.SkippedStations++
			l.logger.Debug("skipping station", "index", i, "err", err)
			continue
		}
		if j, dup := seen[s.Name]; dup {
			net.Stations[j] = s
			continue
		}
		seen[s.Name] = len(net.Stations)
		net.Stations = append(net.Stations, s)
	}
	if len(net.Stations) == 0 {
		return net, ErrEmptyNetwork
	}

	locate := Locator(cachedLocator{next: l.newLocator(net.Stations), cache: l.cache})
	for i, m := range trackRecords {
		t, err := l.track(m, seen, locate)
		if err != nil {
			net.Stats.SkippedTracks++
			l.logger.Debug("skipping track", "index", i, "err", err)
			continue
		}
		net.Tracks = append(net.Tracks, t)
	}

	net.Stats.Stations = len(net.Stations)
	net.Stats.Tracks = len(net.Tracks)
	l.logger.Info("network loaded",
		"stations", net.Stats.Stations, "tracks", net.Stats.Tracks,
		"skipped_stations", net.Stats.SkippedStations, "skipped_tracks", net.Stats.SkippedTracks,
		"truncated", net.Stats.Truncated)
	return net, nil
}

func (l *Loader) station(m map[string]any) (graph.Station, error) {
	rec, err := parseStation(m, l.opts.DefaultImportance)
	if err != nil {
		return graph.Station{}, err
	}
	if err := l.validate.Struct(rec); err != nil {
		return graph.Station{}, err
	}
	s := graph.Station{
		Name:       rec.Name,
		Importance: rec.Importance,
		Platforms:  graph.PlatformsFor(rec.Importance),
	}
	if rec.Platforms > 0 {
		s.Platforms = max(rec.Platforms, graph.MinPlatforms)
	}
	if p, ok := rec.Point(); ok {
		s.Location = &p
	}
	return s, nil
}

func (l *Loader) track(m map[string]any, known map[graph.StationID]int, locate Locator) (graph.Track, error) {
	rec, err := parseTrack(m, l.opts.DefaultSpeedLimit, l.opts.CoordsLonLat)
	if err != nil {
		return graph.Track{}, err
	}
	if err := l.validate.Struct(rec); err != nil {
		return graph.Track{}, err
	}
	line := rec.line()

	from, err := endpoint(rec.From, line, 0, known, locate)
	if err != nil {
		return graph.Track{}, fmt.Errorf("start: %w", err)
	}
	to, err := endpoint(rec.To, line, len(line)-1, known, locate)
	if err != nil {
		return graph.Track{}, fmt.Errorf("end: %w", err)
	}
	if from == to {
		return graph.Track{}, fmt.Errorf("both ends resolve to %q", from)
	}

	length := rec.Length
	if length <= 0 && len(line) >= 2 {
		length = geo.LengthHaversine(line) / 1000
	}
	if length <= 0 {
		return graph.Track{}, fmt.Errorf("track %s-%s has no length", from, to)
	}
	return graph.Track{From: from, To: to, LengthKM: length, SpeedLimit: rec.SpeedLimit}, nil
}

// endpoint resolves a track end: an explicit station name wins, otherwise the
// polyline point at index i is snapped to the nearest station.
func endpoint(name string, line orb.LineString, i int, known map[graph.StationID]int, locate Locator) (graph.StationID, error) {
	if name != "" {
		if _, ok := known[name]; !ok {
			return "", fmt.Errorf("unknown station %q", name)
		}
		return name, nil
	}
	if i < 0 || i >= len(line) || len(line) < 2 {
		return "", errors.New("no coordinates")
	}
	s, ok := locate.Nearest(line[i])
	if !ok {
		return "", fmt.Errorf("no station near %v", line[i])
	}
	return s, nil
}

// LoadFiles reads the station and track JSON files and loads them. Each file
// holds either a bare array of records or an object with a "stations" or
// "tracks" array.
func (l *Loader) LoadFiles(stationsPath, tracksPath string) (Network, error) {
	stations, err := readRecords(stationsPath, "stations")
	if err != nil {
		return Network{}, err
	}
	var tracks []map[string]any
	if tracksPath != "" {
		if tracks, err = readRecords(tracksPath, "tracks"); err != nil {
			return Network{}, err
		}
	}
	return l.Load(stations, tracks)
}

func readRecords(path, key string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer f.Close()
	recs, err := DecodeRecords(f, key)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}

// DecodeRecords decodes a bare array of records or an object holding the
// array under key.
func DecodeRecords(r io.Reader, key string) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	var recs []map[string]any
	if err := json.Unmarshal(raw, &recs); err == nil {
		return recs, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("expected an array or an object with %q: %w", key, err)
	}
	inner, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("object has no %q key", key)
	}
	if err := json.Unmarshal(inner, &recs); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return recs, nil
}

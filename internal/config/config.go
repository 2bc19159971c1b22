// Package config loads the YAML configuration of the environment and its
// server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cxd309/tms-railenv/internal/codec"
	"github.com/cxd309/tms-railenv/internal/engine"
	"github.com/cxd309/tms-railenv/internal/loader"
	"github.com/cxd309/tms-railenv/internal/train"
)

// Config is the root configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Reward      RewardConfig      `yaml:"reward"`
	Observation ObservationConfig `yaml:"observation"`
	Loader      loader.Options    `yaml:"loader"`
	Data        DataConfig        `yaml:"data"`
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	eo := engine.DefaultOptions()
	return Config{
		Environment: EnvironmentConfig{
			MaxTrains:    eo.MaxTrains,
			TimeBudget:   eo.TimeBudget,
			EdgeCapacity: eo.EdgeCapacity,
			SpawnPool:    eo.SpawnPool,
			Order:        string(eo.Order),
		},
		Reward: RewardConfig{
			DelayPenalty:     eo.Reward.DelayPenalty,
			ArrivalBonus:     eo.Reward.ArrivalBonus,
			ImportanceWeight: eo.Reward.ImportanceWeight,
		},
		Observation: ObservationConfig{SpeedScale: eo.Scales.Speed, DelayScale: eo.Scales.Delay},
		Loader:      loader.DefaultOptions(),
		Data:        DataConfig{Stations: "data/stations.json", Tracks: "data/tracks.json"},
		Server:      ServerConfig{Port: 8080, CORSOrigins: []string{"*"}, MaxSessions: 64},
		Store:       StoreConfig{Driver: "memory"},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Environment.SpawnPool > c.Loader.MaxStations {
		return fmt.Errorf("invalid config: spawn_pool %d exceeds loader max_stations %d",
			c.Environment.SpawnPool, c.Loader.MaxStations)
	}
	return nil
}

// EngineOptions converts the environment, reward and observation sections.
func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		MaxTrains:           c.Environment.MaxTrains,
		TimeBudget:          c.Environment.TimeBudget,
		EdgeCapacity:        c.Environment.EdgeCapacity,
		SpawnPool:           c.Environment.SpawnPool,
		Order:               train.Order(c.Environment.Order),
		AllowPartialActions: c.Environment.AllowPartialActions,
		Reward: &engine.RewardOptions{
			DelayPenalty:     c.Reward.DelayPenalty,
			ArrivalBonus:     c.Reward.ArrivalBonus,
			ImportanceWeight: c.Reward.ImportanceWeight,
		},
		Scales: codec.Scales{Speed: c.Observation.SpeedScale, Delay: c.Observation.DelayScale},
	}
}

// FeedEpoch returns the wall-clock time of minute zero; the zero time when
// unset.
func (c Config) FeedEpoch() time.Time {
	if c.Server.FeedEpoch == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.Server.FeedEpoch)
	if err != nil {
		return time.Time{}
	}
	return t
}

package config

// EnvironmentConfig holds the episode knobs.
type EnvironmentConfig struct {
	MaxTrains           int     `yaml:"max_trains" validate:"gt=0"`
	TimeBudget          float64 `yaml:"time_budget" validate:"gt=0"` // minutes
	EdgeCapacity        int     `yaml:"edge_capacity" validate:"gt=0"`
	SpawnPool           int     `yaml:"spawn_pool" validate:"gt=1"`
	Order               string  `yaml:"order" validate:"omitempty,oneof=spawn_order most_delayed_first"`
	AllowPartialActions bool    `yaml:"allow_partial_actions"`
}

// RewardConfig weights the reward terms.
type RewardConfig struct {
	DelayPenalty     float64 `yaml:"delay_penalty" validate:"gte=0"`
	ArrivalBonus     float64 `yaml:"arrival_bonus" validate:"gte=0"`
	ImportanceWeight float64 `yaml:"importance_weight" validate:"gte=0"`
}

// ObservationConfig normalises observation values.
type ObservationConfig struct {
	SpeedScale float64 `yaml:"speed_scale" validate:"gt=0"`
	DelayScale float64 `yaml:"delay_scale" validate:"gt=0"`
}

// DataConfig points at the network files.
type DataConfig struct {
	Stations string `yaml:"stations" validate:"required"`
	Tracks   string `yaml:"tracks"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port        int      `yaml:"port" validate:"gt=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`
	FeedEpoch   string   `yaml:"feed_epoch" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	MaxSessions int      `yaml:"max_sessions" validate:"gt=0"`
}

// StoreConfig selects where finished episodes are recorded.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory postgres"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

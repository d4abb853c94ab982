package config

import (
	"bytes"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
)

const (
	StrategyDFS    = "dfs"
	StrategyRandom = "random"
	StrategyPCT    = "pct"
	StrategyReplay = "replay"
)

const (
	defaultMaxIterations     = 1000
	defaultMaxSteps          = 10000
	defaultChangePoints      = 3
	defaultLivelockThreshold = 500
	defaultLivelockRepeats   = 10
	defaultMaxShrinkAttempts = 100
	defaultTimeout           = "0s"
)

// Config is the configuration of a testing session
type Config struct {
	Strategy      string `toml:"strategy" json:"strategy"`
	MaxIterations int    `toml:"max-iterations" json:"max-iterations"`
	MaxSteps      int    `toml:"max-steps-per-run" json:"max-steps-per-run"`
	Seed          int64  `toml:"seed" json:"seed"`
	FailFast      bool   `toml:"fail-fast" json:"fail-fast"`
	BoundIsBug    bool   `toml:"bound-is-bug" json:"bound-is-bug"`
	Parallelism   int    `toml:"parallelism" json:"parallelism"`

	// The trace replayed by the replay strategy
	ReplayTraceFile string `toml:"replay-trace-file" json:"replay-trace-file"`
	// Where the trace of a found bug is stored
	TraceOutputFile string `toml:"trace-output-file" json:"trace-output-file"`

	PriorityChangePoints int `toml:"priority-change-points" json:"priority-change-points"`

	LivelockThreshold    int `toml:"livelock-threshold" json:"livelock-threshold"`
	LivelockRepeats      int `toml:"livelock-repeats" json:"livelock-repeats"`
	TemperatureThreshold int `toml:"liveness-temperature-threshold" json:"liveness-temperature-threshold"`

	MaxShrinkAttempts int `toml:"max-shrink-attempts" json:"max-shrink-attempts"`
	MailboxCapacity   int `toml:"mailbox-capacity" json:"mailbox-capacity"`

	TimeoutStr string        `toml:"timeout" json:"timeout"`
	Timeout    time.Duration `toml:"-" json:"-"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Strategy:             StrategyRandom,
		MaxIterations:        defaultMaxIterations,
		MaxSteps:             defaultMaxSteps,
		FailFast:             true,
		Parallelism:          1,
		PriorityChangePoints: defaultChangePoints,
		LivelockThreshold:    defaultLivelockThreshold,
		LivelockRepeats:      defaultLivelockRepeats,
		MaxShrinkAttempts:    defaultMaxShrinkAttempts,
		TimeoutStr:           defaultTimeout,
	}
}

// Load reads the file at path on top of the default configuration, then adjusts and validates it
func Load(path string) (*Config, error) {
	c := Default()
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "config: unable to decode %v", path)
	}
	if err := checkUndecodedItems(metaData); err != nil {
		return nil, err
	}
	if err := c.Adjust(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Parse reads a configuration from a TOML document, see Load
func Parse(data string) (*Config, error) {
	c := Default()
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return nil, errors.Wrap(err, "config: unable to decode configuration")
	}
	if err := checkUndecodedItems(metaData); err != nil {
		return nil, err
	}
	if err := c.Adjust(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Adjust parses the fields that are given as strings
func (c *Config) Adjust() (err error) {
	if c.TimeoutStr == "" {
		c.TimeoutStr = defaultTimeout
	}
	c.Timeout, err = time.ParseDuration(c.TimeoutStr)
	if err != nil {
		return errors.Wrapf(err, "config: invalid timeout %q", c.TimeoutStr)
	}
	return nil
}

// Validate checks that the configuration describes a session that can be run
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Strategy, validation.Required, validation.In(StrategyDFS, StrategyRandom, StrategyPCT, StrategyReplay)),
		validation.Field(&c.MaxIterations, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxSteps, validation.Required, validation.Min(1)),
		validation.Field(&c.Parallelism, validation.Min(1)),
		validation.Field(&c.ReplayTraceFile, validation.When(c.Strategy == StrategyReplay, validation.Required)),
		validation.Field(&c.PriorityChangePoints, validation.Min(0)),
		validation.Field(&c.LivelockThreshold, validation.Min(0)),
		validation.Field(&c.LivelockRepeats, validation.Min(0)),
		validation.Field(&c.TemperatureThreshold, validation.Min(0)),
		validation.Field(&c.MaxShrinkAttempts, validation.Min(0)),
		validation.Field(&c.MailboxCapacity, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
	return errors.WithMessage(err, "config: invalid configuration")
}

// Toml returns TOML format representation of config
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Wrap(err, "config: unable to encode configuration")
	}
	return b.String(), nil
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var items []string
		for _, item := range undecoded {
			items = append(items, item.String())
		}
		return errors.Errorf("config: unknown configuration items: %v", strings.Join(items, ","))
	}
	return nil
}

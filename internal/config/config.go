// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the agent configuration, loadable from a JSON file with
// environment variables layered on top. Secrets (app password, API key)
// should come from the environment, not the file.
type Config struct {
	// Remote site
	SiteURL     string `json:"site_url,omitempty" validate:"required,url"`
	Username    string `json:"username,omitempty" validate:"required"`
	AppPassword string `json:"app_password,omitempty" validate:"required"`
	// SiteTZ is the IANA timezone the remote site renders schedule
	// datetimes in, e.g. "America/New_York".
	SiteTZ string `json:"site_tz,omitempty"`

	// Generation
	GeminiAPIKey string `json:"gemini_api_key,omitempty"`
	Model        string `json:"model,omitempty"`

	// Storage
	DatabaseURL string `json:"database_url,omitempty"`
	MediaDir    string `json:"media_dir,omitempty"`

	// Quota: publish and schedule actions are capped per rolling 24h and
	// 1h windows. Zero disables a window. Drafts are exempt.
	MaxPublishesPerDay  int `json:"max_publishes_per_day,omitempty" validate:"gte=0"`
	MaxPublishesPerHour int `json:"max_publishes_per_hour,omitempty" validate:"gte=0"`

	// RequeueDelay is how long a quota-deferred job waits before its
	// next dispatch attempt; PublishJitter is the fraction of that delay
	// added as random jitter so deferred jobs do not stampede.
	RequeueDelay  Duration `json:"requeue_delay,omitempty"`
	PublishJitter float64  `json:"publish_jitter,omitempty" validate:"gte=0,lte=1"`

	// AutoReplayAttempts bounds automatic resumes of replayable runs.
	AutoReplayAttempts int `json:"auto_replay_attempts,omitempty" validate:"gte=0"`

	// Retry
	RetryBase          Duration `json:"retry_base,omitempty"`
	RetryCeiling       Duration `json:"retry_ceiling,omitempty"`
	MaxNetworkAttempts int      `json:"max_network_attempts,omitempty" validate:"gte=0"`
	MaxLocalAttempts   int      `json:"max_local_attempts,omitempty" validate:"gte=0"`

	// ScheduleTolerance is the accepted drift between requested and
	// effective publish datetimes. Zero means exact match required.
	ScheduleTolerance Duration `json:"schedule_tolerance,omitempty"`
	StepTimeout       Duration `json:"step_timeout,omitempty"`

	// Quality gate
	MinWordCount     int      `json:"min_word_count,omitempty" validate:"gte=0"`
	MaxWordCount     int      `json:"max_word_count,omitempty" validate:"gte=0"`
	BannedTerms      []string `json:"banned_terms,omitempty"`
	LinkCheckEnabled bool     `json:"link_check_enabled,omitempty"`

	// Taxonomy applied to jobs that specify none.
	DefaultCategory string   `json:"default_category,omitempty"`
	DefaultTags     []string `json:"default_tags,omitempty"`

	// Workers is the scheduler's concurrent run limit.
	Workers int `json:"workers,omitempty" validate:"gte=0"`

	ListenAddr string `json:"listen_addr,omitempty"`
	Verbose    bool   `json:"verbose,omitempty"`
}

// Duration is a time.Duration that unmarshals from a JSON string like
// "90s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overlays well-known environment variables onto the config.
// Environment values win over file values so deployments can keep
// secrets out of config files.
func (c *Config) ApplyEnv() {
	for env, dst := range map[string]*string{
		"WP_SITE_URL":     &c.SiteURL,
		"WP_USERNAME":     &c.Username,
		"WP_APP_PASSWORD": &c.AppPassword,
		"WP_SITE_TZ":      &c.SiteTZ,
		"GEMINI_API_KEY":  &c.GeminiAPIKey,
		"DATABASE_URL":    &c.DatabaseURL,
		"MEDIA_DIR":       &c.MediaDir,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.SiteTZ == "" {
		c.SiteTZ = "UTC"
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.RetryBase == 0 {
		c.RetryBase = Duration(time.Second)
	}
	if c.RetryCeiling == 0 {
		c.RetryCeiling = Duration(2 * time.Minute)
	}
	if c.MaxNetworkAttempts == 0 {
		c.MaxNetworkAttempts = 5
	}
	if c.MaxLocalAttempts == 0 {
		c.MaxLocalAttempts = 2
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = Duration(2 * time.Minute)
	}
	if c.RequeueDelay == 0 {
		c.RequeueDelay = Duration(15 * time.Minute)
	}
	if c.PublishJitter == 0 {
		c.PublishJitter = 0.5
	}
	if c.AutoReplayAttempts == 0 {
		c.AutoReplayAttempts = 1
	}
	if c.MinWordCount == 0 {
		c.MinWordCount = 500
	}
	if c.MaxWordCount == 0 {
		c.MaxWordCount = 3000
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Validate checks the configuration. Site credentials are required for
// any command that talks to the remote platform; commands that do not
// (status, cancel, config, preview) skip this.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("config error: field %s failed %s validation", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}
	if _, err := c.SiteLocation(); err != nil {
		return err
	}
	return nil
}

// SiteLocation loads the remote site's timezone.
func (c *Config) SiteLocation() (*time.Location, error) {
	tz := c.SiteTZ
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("config error: invalid site_tz %q: %w", tz, err)
	}
	return loc, nil
}

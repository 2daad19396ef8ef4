package adminsync

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/storefront/adminsync/internal/codec"
	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
)

// Duration is a time.Duration written as "15s" in config files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type PollConfig struct {
	// Interval paces the activity log poll.
	Interval Duration `toml:"interval"`
	// EntityInterval paces Collection.Poll.
	EntityInterval Duration `toml:"entity_interval"`
}

type ReconnectConfig struct {
	// Attempts is the number of retries after a failed dial before the
	// channel is degraded. Must be at least 1.
	Attempts int      `toml:"attempts"`
	Delay    Duration `toml:"delay"`
	// Backoff grows the delay exponentially instead of keeping it fixed.
	Backoff bool `toml:"backoff"`
}

type FeedConfig struct {
	// Limit caps retained feed events. Negative keeps everything.
	Limit      int      `toml:"limit"`
	Resolution Duration `toml:"resolution"`
}

type Config struct {
	BaseURL string `toml:"base_url"`
	// EventsURL defaults to the event stream path on BaseURL's host.
	EventsURL string `toml:"events_url"`
	Token     string `toml:"token"`
	// Encoding is the event stream codec: "json" or "cbor".
	Encoding       string   `toml:"encoding"`
	RequestTimeout Duration `toml:"request_timeout"`

	Poll      PollConfig      `toml:"poll"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Feed      FeedConfig      `toml:"feed"`

	Logger  logger.Logger    `toml:"-"`
	Metrics *metrics.Metrics `toml:"-"`
}

// NewConfig returns a Config with every default set. BaseURL still has to be
// provided.
func NewConfig() *Config {
	return &Config{
		Encoding:       constants.DefaultEncoding,
		RequestTimeout: Duration{constants.DefaultRequestTimeout},
		Poll: PollConfig{
			Interval:       Duration{constants.DefaultPollInterval},
			EntityInterval: Duration{constants.DefaultEntityPollInterval},
		},
		Reconnect: ReconnectConfig{
			Attempts: constants.DefaultReconnectAttempts,
			Delay:    Duration{constants.DefaultReconnectDelay},
		},
		Feed: FeedConfig{
			Limit:      constants.DefaultFeedLimit,
			Resolution: Duration{constants.DefaultDedupResolution},
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults, then applies the
// ADMINSYNC_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	conf := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, conf); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	conf.BaseURL = GetEnvOrDefault(EnvBaseURL, conf.BaseURL)
	conf.EventsURL = GetEnvOrDefault(EnvEventsURL, conf.EventsURL)
	conf.Token = GetEnvOrDefault(EnvToken, conf.Token)

	return conf, nil
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return constants.ErrNoBaseURL
	}
	if _, err := c.eventsURL(); err != nil {
		return err
	}
	if _, err := codec.ByName(c.Encoding); err != nil {
		return err
	}
	if c.Poll.Interval.Duration <= 0 || c.Poll.EntityInterval.Duration <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Reconnect.Attempts < 1 {
		return fmt.Errorf("reconnect attempts must be at least 1, got %d", c.Reconnect.Attempts)
	}
	if c.Reconnect.Delay.Duration < 0 || c.RequestTimeout.Duration < 0 || c.Feed.Resolution.Duration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// eventsURL returns EventsURL, or the event stream endpoint derived from
// BaseURL with the matching websocket scheme.
func (c *Config) eventsURL() (*url.URL, error) {
	if c.EventsURL != "" {
		u, err := url.Parse(c.EventsURL)
		if err != nil {
			return nil, fmt.Errorf("invalid events url: %w", err)
		}
		switch u.Scheme {
		case constants.WebsocketScheme, constants.SecureWebsocketScheme:
			return u, nil
		default:
			return nil, fmt.Errorf("invalid events url scheme %q", u.Scheme)
		}
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case constants.HTTPScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		u.Scheme = constants.SecureWebsocketScheme
	default:
		return nil, fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}
	return u.JoinPath(constants.DefaultEventsPath), nil
}

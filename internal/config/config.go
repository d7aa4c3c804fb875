// Package config loads the bot configuration from the environment and builds
// the collaborators it describes.
//
// Every setting has an HGB_ prefixed variable with a default; the Twitter and
// Telegram credentials keep their conventional unprefixed names. Command-line
// flags override selected fields after loading.
package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pfrederiksen/hockeygamebot/internal/dispatch"
	"github.com/pfrederiksen/hockeygamebot/internal/feed"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/notifier"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
	"github.com/pfrederiksen/hockeygamebot/internal/storage"
	"github.com/pfrederiksen/hockeygamebot/internal/tracker"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the full bot configuration.
type Config struct {
	DataDir   string `env:"HGB_DATA_DIR"   envDefault:"~/.local/share/hockeygamebot"`
	Store     string `env:"HGB_STORE"      envDefault:"file"`
	StoreDSN  string `env:"HGB_STORE_DSN"`
	FeedURL   string `env:"HGB_FEED_URL"   envDefault:"https://api-web.nhle.com/v1"`
	LocalData string `env:"HGB_LOCAL_DATA"`
	HTTPAddr  string `env:"HGB_HTTP_ADDR"`
	LogLevel  string `env:"HGB_LOG_LEVEL"  envDefault:"info"`
	DryRun    bool   `env:"HGB_DRY_RUN"`
	MaxGames  int    `env:"HGB_MAX_GAMES"`

	OTelEndpoint string   `env:"HGB_OTEL_ENDPOINT"`
	Hashtags     []string `env:"HGB_HASHTAGS" envSeparator:","`

	Cadence  Cadence
	Delivery Delivery

	Twitter  Twitter
	Telegram Telegram
	Discord  Discord
	AMQP     AMQP
	MQTT     MQTT
}

// Cadence controls polling.
type Cadence struct {
	PreviewInterval      time.Duration `env:"HGB_PREVIEW_INTERVAL"      envDefault:"30m"`
	PregameInterval      time.Duration `env:"HGB_PREGAME_INTERVAL"      envDefault:"1m"`
	LiveInterval         time.Duration `env:"HGB_LIVE_INTERVAL"         envDefault:"10s"`
	IntermissionInterval time.Duration `env:"HGB_INTERMISSION_INTERVAL" envDefault:"60s"`
	FinalInterval        time.Duration `env:"HGB_FINAL_INTERVAL"        envDefault:"60s"`
	FinalGrace           time.Duration `env:"HGB_FINAL_GRACE"           envDefault:"10m"`

	FetchInitialBackoff time.Duration `env:"HGB_FETCH_INITIAL_BACKOFF" envDefault:"2s"`
	FetchMaxBackoff     time.Duration `env:"HGB_FETCH_MAX_BACKOFF"     envDefault:"2m"`

	RetractionConfirmations int `env:"HGB_RETRACTION_CONFIRMATIONS" envDefault:"5"`
}

// Delivery controls publishing.
type Delivery struct {
	Attempts       int           `env:"HGB_PUBLISH_ATTEMPTS"        envDefault:"3"`
	InitialBackoff time.Duration `env:"HGB_PUBLISH_INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"HGB_PUBLISH_MAX_BACKOFF"     envDefault:"5s"`
	Retractions    string        `env:"HGB_RETRACTIONS"             envDefault:"notify"`
}

// Twitter holds the OAuth 1.0a user context credentials.
type Twitter struct {
	APIKey       string `env:"TWITTER_API_KEY"`
	APISecret    string `env:"TWITTER_API_SECRET"`
	AccessToken  string `env:"TWITTER_ACCESS_TOKEN"`
	AccessSecret string `env:"TWITTER_ACCESS_SECRET"`
}

// Enabled reports whether any credential is set.
func (t Twitter) Enabled() bool {
	return t.APIKey != "" || t.APISecret != "" || t.AccessToken != "" || t.AccessSecret != ""
}

type Telegram struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `env:"TELEGRAM_CHAT_ID"`
}

type Discord struct {
	WebhookURL string `env:"HGB_DISCORD_WEBHOOK_URL"`
	Username   string `env:"HGB_DISCORD_USERNAME" envDefault:"Hockey Game Bot"`
}

type AMQP struct {
	URL      string `env:"HGB_AMQP_URL"`
	Exchange string `env:"HGB_AMQP_EXCHANGE" envDefault:"hockeygamebot"`
}

type MQTT struct {
	Broker      string `env:"HGB_MQTT_BROKER"`
	Username    string `env:"HGB_MQTT_USERNAME"`
	Password    string `env:"HGB_MQTT_PASSWORD"`
	TopicPrefix string `env:"HGB_MQTT_TOPIC_PREFIX" envDefault:"hockeygamebot"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	case StorePostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("HGB_STORE_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q (must be file, sqlite or postgres)", c.Store)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	intervals := map[string]time.Duration{
		"preview interval":      c.Cadence.PreviewInterval,
		"pregame interval":      c.Cadence.PregameInterval,
		"live interval":         c.Cadence.LiveInterval,
		"intermission interval": c.Cadence.IntermissionInterval,
		"final interval":        c.Cadence.FinalInterval,
		"fetch backoff":         c.Cadence.FetchInitialBackoff,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Cadence.FinalGrace < 0 {
		return fmt.Errorf("final grace must not be negative, got %s", c.Cadence.FinalGrace)
	}
	if c.Cadence.FetchMaxBackoff < c.Cadence.FetchInitialBackoff {
		return fmt.Errorf("fetch max backoff %s is below the initial backoff %s",
			c.Cadence.FetchMaxBackoff, c.Cadence.FetchInitialBackoff)
	}
	if c.Cadence.RetractionConfirmations < 1 {
		return fmt.Errorf("retraction confirmations must be at least 1, got %d", c.Cadence.RetractionConfirmations)
	}

	if c.Delivery.Attempts < 1 {
		return fmt.Errorf("publish attempts must be at least 1, got %d", c.Delivery.Attempts)
	}
	if _, err := dispatch.ParseRetractionPolicy(c.Delivery.Retractions); err != nil {
		return err
	}

	if c.Twitter.Enabled() && (c.Twitter.APIKey == "" || c.Twitter.APISecret == "" ||
		c.Twitter.AccessToken == "" || c.Twitter.AccessSecret == "") {
		return fmt.Errorf("incomplete Twitter credentials: all four TWITTER_* variables are required")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger(out io.Writer) (*logger.Logger, error) {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.New(level, out), nil
}

// Policy returns the cadence policy.
func (c Config) Policy() state.Policy {
	return state.Policy{
		PreviewInterval:      c.Cadence.PreviewInterval,
		PregameInterval:      c.Cadence.PregameInterval,
		LiveInterval:         c.Cadence.LiveInterval,
		IntermissionInterval: c.Cadence.IntermissionInterval,
		FinalInterval:        c.Cadence.FinalInterval,
		FinalGrace:           c.Cadence.FinalGrace,
	}
}

// TrackerOptions returns the per-game tracker options.
func (c Config) TrackerOptions() tracker.Options {
	return tracker.Options{
		Policy:                  c.Policy(),
		InitialBackoff:          c.Cadence.FetchInitialBackoff,
		MaxBackoff:              c.Cadence.FetchMaxBackoff,
		RetractionConfirmations: c.Cadence.RetractionConfirmations,
	}
}

// DispatchOptions returns the delivery options.
func (c Config) DispatchOptions() (dispatch.Options, error) {
	policy, err := dispatch.ParseRetractionPolicy(c.Delivery.Retractions)
	if err != nil {
		return dispatch.Options{}, err
	}
	return dispatch.Options{
		MaxAttempts:    c.Delivery.Attempts,
		InitialBackoff: c.Delivery.InitialBackoff,
		MaxBackoff:     c.Delivery.MaxBackoff,
		Retractions:    policy,
	}, nil
}

// Feed returns the feed client: recorded documents when LocalData is set,
// the NHL API otherwise.
func (c Config) Feed() (feed.Client, error) {
	if c.LocalData != "" {
		return feed.NewReplay(c.LocalData)
	}
	return feed.NewNHL(c.FeedURL), nil
}

// OpenStore opens the configured store. The returned close function
// releases it.
func (c Config) OpenStore() (storage.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Store {
	case StoreFile:
		s, err := storage.NewFileStore(c.DataDir)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing storage: %w", err)
		}
		return s, noop, nil

	case StoreSQLite, StorePostgres:
		dsn := c.StoreDSN
		if dsn == "" {
			fs, err := storage.NewFileStore(c.DataDir)
			if err != nil {
				return nil, noop, fmt.Errorf("initializing storage: %w", err)
			}
			dsn = filepath.Join(fs.Dir(), "state.db")
		}
		s, err := storage.OpenSQL(c.Store, dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing storage: %w", err)
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store %q", c.Store)
}

// closer is implemented by publishers holding a connection.
type closer interface {
	Close() error
}

// Publishers builds a publisher for every configured channel. In dry-run
// mode only a dry-run publisher writing to out is returned. The returned
// close function disconnects publishers that hold connections.
func (c Config) Publishers(out io.Writer) ([]notifier.Publisher, func(), error) {
	if c.DryRun {
		return []notifier.Publisher{notifier.NewDryRunNotifier(out)}, func() {}, nil
	}

	var pubs []notifier.Publisher
	closeAll := func() {
		for _, p := range pubs {
			if cl, ok := p.(closer); ok {
				cl.Close()
			}
		}
	}
	fail := func(err error) ([]notifier.Publisher, func(), error) {
		closeAll()
		return nil, func() {}, err
	}

	if c.Twitter.Enabled() {
		tw, err := notifier.NewTwitterNotifier(notifier.TwitterCredentials{
			APIKey:       c.Twitter.APIKey,
			APISecret:    c.Twitter.APISecret,
			AccessToken:  c.Twitter.AccessToken,
			AccessSecret: c.Twitter.AccessSecret,
		})
		if err != nil {
			return fail(fmt.Errorf("initializing Twitter: %w", err))
		}
		pubs = append(pubs, tw)
	}

	if c.Telegram.BotToken != "" {
		tg, err := notifier.NewTelegramNotifier(c.Telegram.BotToken, c.Telegram.ChatID)
		if err != nil {
			return fail(fmt.Errorf("initializing Telegram: %w", err))
		}
		pubs = append(pubs, tg)
	}

	if c.Discord.WebhookURL != "" {
		d, err := notifier.NewDiscordNotifier(c.Discord.WebhookURL, c.Discord.Username)
		if err != nil {
			return fail(fmt.Errorf("initializing Discord: %w", err))
		}
		pubs = append(pubs, d)
	}

	if c.AMQP.URL != "" {
		a, err := notifier.NewAMQPNotifier(c.AMQP.URL, c.AMQP.Exchange)
		if err != nil {
			return fail(fmt.Errorf("initializing AMQP: %w", err))
		}
		pubs = append(pubs, a)
	}

	if c.MQTT.Broker != "" {
		m, err := notifier.NewMQTTNotifier(notifier.MQTTOptions{
			Broker:      c.MQTT.Broker,
			Username:    c.MQTT.Username,
			Password:    c.MQTT.Password,
			TopicPrefix: c.MQTT.TopicPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("initializing MQTT: %w", err))
		}
		pubs = append(pubs, m)
	}

	return pubs, closeAll, nil
}

// Routes turns publishers into dispatch routes on their default channel.
func Routes(pubs []notifier.Publisher) []dispatch.Route {
	routes := make([]dispatch.Route, 0, len(pubs))
	for _, p := range pubs {
		routes = append(routes, dispatch.Route{Publisher: p})
	}
	return routes
}

// Summary describes the configuration for verbose output, without secrets.
func (c Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store=%s data_dir=%s", c.Store, c.DataDir)
	if c.LocalData != "" {
		fmt.Fprintf(&b, " local_data=%s", c.LocalData)
	} else {
		fmt.Fprintf(&b, " feed=%s", c.FeedURL)
	}
	fmt.Fprintf(&b, " live_interval=%s dry_run=%t", c.Cadence.LiveInterval, c.DryRun)
	if c.HTTPAddr != "" {
		fmt.Fprintf(&b, " http=%s", c.HTTPAddr)
	}
	return b.String()
}

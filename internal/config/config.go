package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"PlumFinder/internal/domain"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "PLUMFINDER_CONFIG"
	seenStoreDSNEnv = "SEEN_STORE_DSN"
	localStoreEnv   = "LOCAL_STORE_PATH"
	ebayAppIDEnv    = "EBAY_APP_ID"
	etsyAPIKeyEnv   = "ETSY_API_KEY"
	senderEmailEnv  = "SENDER_EMAIL"
	recipientsEnv   = "RECIPIENT_EMAILS"
	awsRegionEnv    = "AWS_REGION"
	sesKeyIDEnv     = "SES_ACCESS_KEY_ID"
	sesSecretEnv    = "SES_SECRET_ACCESS_KEY"
	telegramToken   = "TELEGRAM_BOT_TOKEN"
	telegramChatID  = "TELEGRAM_CHAT_ID"
	channelEnv      = "DELIVERY_CHANNEL"
	pushgatewayEnv  = "PUSHGATEWAY_URL"
	logLevelEnv     = "LOG_LEVEL"
	logFormatEnv    = "LOG_FORMAT"
	resetDBEnv      = "RESET_DB"
)

// Source names known to the application.
const (
	SourceCraigslist = "craigslist"
	SourceOfferUp    = "offerup"
	SourceMercari    = "mercari"
	SourceEbay       = "ebay"
	SourceEtsy       = "etsy"
	SourcePoshmark   = "poshmark"
)

// Delivery channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// Config is built once at process start and passed down explicitly.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Location  LocationConfig  `yaml:"location"`
	Search    SearchConfig    `yaml:"search"`
	Sources   []SourceConfig  `yaml:"sources"`
	Color     ColorConfig     `yaml:"color"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Store     StoreConfig     `yaml:"store"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Places    []domain.Place  `yaml:"places"`

	// ResetBeforeRun clears the seen store before a normal run.
	ResetBeforeRun bool `yaml:"resetBeforeRun"`
}

// LoggingConfig selects zap level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LocationConfig is the search origin and radius.
type LocationConfig struct {
	Origin      domain.GeoPoint `yaml:"origin"`
	PostalCode  string          `yaml:"postalCode"`
	RadiusMiles float64         `yaml:"radiusMiles"`
}

// QueryConfig is one search term and the category its results belong to.
type QueryConfig struct {
	Term     string `yaml:"term"`
	Category string `yaml:"category"`
}

// SearchConfig drives which listings are fetched and kept.
type SearchConfig struct {
	Queries       []QueryConfig `yaml:"queries"`
	Exclude       []string      `yaml:"exclude"`
	TopK          int           `yaml:"topK"`
	MinColorScore float64       `yaml:"minColorScore"`
}

// SourceConfig describes one marketplace and how politely to talk to it.
type SourceConfig struct {
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled"`
	// APIKey enables the API capability; empty forces scrape mode.
	APIKey     string `yaml:"apiKey"`
	BaseURL    string `yaml:"baseUrl"`
	APIBaseURL string `yaml:"apiBaseUrl"`

	MinInterval    time.Duration `yaml:"minInterval"`
	Burst          int           `yaml:"burst"`
	Concurrency    int           `yaml:"concurrency"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	BaseDelay      time.Duration `yaml:"baseDelay"`
	MaxDelay       time.Duration `yaml:"maxDelay"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	UserAgents     []string      `yaml:"userAgents"`
	IgnoreRobots   bool          `yaml:"ignoreRobots"`
	// Region is the marketplace's own location slug, e.g. "palo-alto-ca".
	Region string `yaml:"region"`
	// DetailLimit caps listing pages loaded per run to complete search
	// results; zero or less disables detail loading.
	DetailLimit int `yaml:"detailLimit"`
}

// KeywordWeight is one entry of the color vocabulary.
type KeywordWeight struct {
	Term   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`
}

// ColorConfig tunes keyword and image color detection.
type ColorConfig struct {
	KeywordWeight      float64         `yaml:"keywordWeight"`
	ImageWeight        float64         `yaml:"imageWeight"`
	HueMin             float64         `yaml:"hueMin"`
	HueMax             float64         `yaml:"hueMax"`
	HueTolerance       float64         `yaml:"hueTolerance"`
	SaturationMin      float64         `yaml:"saturationMin"`
	ValueMin           float64         `yaml:"valueMin"`
	ValueMax           float64         `yaml:"valueMax"`
	PaletteSize        int             `yaml:"paletteSize"`
	CoverageSaturation float64         `yaml:"coverageSaturation"`
	MaxImages          int             `yaml:"maxImages"`
	ImageConcurrency   int             `yaml:"imageConcurrency"`
	ImageTimeout       time.Duration   `yaml:"imageTimeout"`
	ImageMaxBytes      int64           `yaml:"imageMaxBytes"`
	Keywords           []KeywordWeight `yaml:"keywords"`
}

// RankingWeights are the composite score coefficients.
type RankingWeights struct {
	Color     float64 `yaml:"color"`
	Recency   float64 `yaml:"recency"`
	Price     float64 `yaml:"price"`
	Proximity float64 `yaml:"proximity"`
}

// PriceBand is the price range considered normal for a category.
type PriceBand struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// RankingConfig tunes the composite score.
type RankingConfig struct {
	Weights          RankingWeights       `yaml:"weights"`
	RecencyHalfLife  time.Duration        `yaml:"recencyHalfLife"`
	DefaultPriceBand PriceBand            `yaml:"defaultPriceBand"`
	PriceBands       map[string]PriceBand `yaml:"priceBands"`
}

// StoreConfig selects the seen-store backends.
type StoreConfig struct {
	// DSN of the primary backend: postgres://… or redis://…; empty uses local.
	DSN           string        `yaml:"dsn"`
	LocalPath     string        `yaml:"localPath"`
	ConnTimeout   time.Duration `yaml:"connTimeout"`
	RetentionDays int           `yaml:"retentionDays"`
}

// DeliveryConfig picks and configures the notification channel.
type DeliveryConfig struct {
	Channel  string         `yaml:"channel"`
	Email    EmailConfig    `yaml:"email"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// EmailConfig configures SES delivery.
type EmailConfig struct {
	Region          string   `yaml:"region"`
	Sender          string   `yaml:"sender"`
	Recipients      []string `yaml:"recipients"`
	AccessKeyID     string   `yaml:"accessKeyId"`
	SecretAccessKey string   `yaml:"secretAccessKey"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIURL   string `yaml:"apiUrl"`
}

// SchedulerConfig defines when the daemon mode runs the pipeline.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// MetricsConfig points at an optional Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	Job            string `yaml:"job"`
}

// Source returns the named source configuration.
func (c Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Load reads .env, the YAML file (if configured) and environment overrides
// on top of the defaults.
func Load() (Config, error) {
	// .env is optional; missing files are not an error.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Decode(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Keys absent from the document keep their
// current values; lists present in the document replace the defaults.
func Decode(raw []byte, cfg *Config) error {
	sources := cfg.Sources
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return err
	}
	cfg.Sources = mergeSources(sources, cfg.Sources)
	return nil
}

// mergeSources lets a file override only the fields it mentions for a known
// source: entries are matched by name and zero values keep the default.
func mergeSources(defaults, override []SourceConfig) []SourceConfig {
	if len(override) == 0 {
		return defaults
	}
	byName := make(map[string]SourceConfig, len(defaults))
	for _, d := range defaults {
		byName[d.Name] = d
	}

	merged := make([]SourceConfig, 0, len(override))
	for _, o := range override {
		base, ok := byName[o.Name]
		if !ok {
			merged = append(merged, o)
			continue
		}
		base.Disabled = o.Disabled
		base.IgnoreRobots = o.IgnoreRobots
		if o.APIKey != "" {
			base.APIKey = o.APIKey
		}
		if o.BaseURL != "" {
			base.BaseURL = o.BaseURL
		}
		if o.APIBaseURL != "" {
			base.APIBaseURL = o.APIBaseURL
		}
		if o.MinInterval > 0 {
			base.MinInterval = o.MinInterval
		}
		if o.Burst > 0 {
			base.Burst = o.Burst
		}
		if o.Concurrency > 0 {
			base.Concurrency = o.Concurrency
		}
		if o.MaxAttempts > 0 {
			base.MaxAttempts = o.MaxAttempts
		}
		if o.BaseDelay > 0 {
			base.BaseDelay = o.BaseDelay
		}
		if o.MaxDelay > 0 {
			base.MaxDelay = o.MaxDelay
		}
		if o.RequestTimeout > 0 {
			base.RequestTimeout = o.RequestTimeout
		}
		if len(o.UserAgents) > 0 {
			base.UserAgents = o.UserAgents
		}
		if o.Region != "" {
			base.Region = o.Region
		}
		if o.DetailLimit != 0 {
			base.DetailLimit = o.DetailLimit
		}
		merged = append(merged, base)
	}
	return merged
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(seenStoreDSNEnv); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(localStoreEnv); v != "" {
		c.Store.LocalPath = v
	}

	for i := range c.Sources {
		switch c.Sources[i].Name {
		case SourceEbay:
			if v := os.Getenv(ebayAppIDEnv); v != "" {
				c.Sources[i].APIKey = v
			}
		case SourceEtsy:
			if v := os.Getenv(etsyAPIKeyEnv); v != "" {
				c.Sources[i].APIKey = v
			}
		}
	}

	if v := os.Getenv(senderEmailEnv); v != "" {
		c.Delivery.Email.Sender = v
	}
	if v := os.Getenv(recipientsEnv); v != "" {
		c.Delivery.Email.Recipients = splitList(v)
	}
	if v := os.Getenv(awsRegionEnv); v != "" {
		c.Delivery.Email.Region = v
	}
	if v := os.Getenv(sesKeyIDEnv); v != "" {
		c.Delivery.Email.AccessKeyID = v
	}
	if v := os.Getenv(sesSecretEnv); v != "" {
		c.Delivery.Email.SecretAccessKey = v
	}
	if v := os.Getenv(telegramToken); v != "" {
		c.Delivery.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatID); v != "" {
		c.Delivery.Telegram.ChatID = v
	}
	if v := os.Getenv(channelEnv); v != "" {
		c.Delivery.Channel = strings.ToLower(v)
	}

	if v := os.Getenv(pushgatewayEnv); v != "" {
		c.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}
	if strings.EqualFold(os.Getenv(resetDBEnv), "true") {
		c.ResetBeforeRun = true
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// Validate checks the invariants the scoring code relies on.
func (c Config) Validate() error {
	var errs []error

	if c.Location.RadiusMiles <= 0 {
		errs = append(errs, errors.New("location.radiusMiles must be positive"))
	}
	if len(c.Search.Queries) == 0 {
		errs = append(errs, errors.New("search.queries must not be empty"))
	}
	if c.Search.TopK <= 0 {
		errs = append(errs, errors.New("search.topK must be positive"))
	}
	if c.Search.MinColorScore < 0 || c.Search.MinColorScore > 1 {
		errs = append(errs, errors.New("search.minColorScore must be within [0,1]"))
	}

	w1, w2 := c.Color.KeywordWeight, c.Color.ImageWeight
	if w1 < 0 || w2 < 0 || math.Abs(w1+w2-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("color weights must be non-negative and sum to 1 (got %.3f + %.3f)", w1, w2))
	}
	if c.Color.HueMin < 0 || c.Color.HueMin >= 360 || c.Color.HueMax < 0 || c.Color.HueMax > 360 {
		errs = append(errs, errors.New("color hue band must be within [0,360]"))
	}
	for _, kw := range c.Color.Keywords {
		if strings.TrimSpace(kw.Term) == "" || kw.Weight <= 0 || kw.Weight > 1 {
			errs = append(errs, fmt.Errorf("color keyword %q must have a weight in (0,1]", kw.Term))
		}
	}

	w := c.Ranking.Weights
	if w.Color < 0 || w.Recency < 0 || w.Price < 0 || w.Proximity < 0 || w.Color+w.Recency+w.Price+w.Proximity <= 0 {
		errs = append(errs, errors.New("ranking weights must be non-negative with a positive sum"))
	}
	if c.Ranking.DefaultPriceBand.Max <= c.Ranking.DefaultPriceBand.Min {
		errs = append(errs, errors.New("ranking.defaultPriceBand max must exceed min"))
	}
	for name, band := range c.Ranking.PriceBands {
		if band.Max <= band.Min {
			errs = append(errs, fmt.Errorf("ranking.priceBands[%s] max must exceed min", name))
		}
	}

	for _, s := range c.Sources {
		if !s.Disabled && s.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("source %s: maxAttempts must be positive", s.Name))
		}
	}

	switch c.Delivery.Channel {
	case ChannelEmail, ChannelTelegram:
	default:
		errs = append(errs, fmt.Errorf("delivery.channel %q is not supported", c.Delivery.Channel))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

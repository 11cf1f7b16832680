package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go-degen-pov/internal/bot"
	"go-degen-pov/internal/compositor"
	"go-degen-pov/internal/detector"
	"go-degen-pov/internal/pipeline"
	"go-degen-pov/internal/storage"
	"go-degen-pov/internal/telegram"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Log       LogConfig       `mapstructure:"log"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Detect    DetectConfig    `mapstructure:"detect"`
	Composite CompositeConfig `mapstructure:"composite"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Bot       BotConfig       `mapstructure:"bot"`
}

type HTTPConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Host               string        `mapstructure:"host"`
	Port               string        `mapstructure:"port"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
	Homepage           string        `mapstructure:"homepage"`
}

type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Token          string        `mapstructure:"token"`
	PollTimeout    int           `mapstructure:"poll_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Debug          bool          `mapstructure:"debug"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MaxPixels    int           `mapstructure:"max_pixels"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type DetectConfig struct {
	Variant       string  `mapstructure:"variant"`
	MaxPixels     int     `mapstructure:"max_pixels"`
	BlurRadius    float64 `mapstructure:"blur_radius"`
	MinArea       float64 `mapstructure:"min_area"`
	ReferenceSpan float64 `mapstructure:"reference_span"`
	MaxRotation   float64 `mapstructure:"max_rotation"` // degrees
	TargetArea    float64 `mapstructure:"target_area"`
	Threshold     float64 `mapstructure:"threshold"`
	FixedWidth    float64 `mapstructure:"fixed_width"`
}

type CompositeConfig struct {
	Format      string `mapstructure:"format"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

type PipelineConfig struct {
	Workers     int           `mapstructure:"workers"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	QueueWait   time.Duration `mapstructure:"queue_wait"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AssetsConfig struct {
	Source      string        `mapstructure:"source"`
	Dir         string        `mapstructure:"dir"`
	Default     string        `mapstructure:"default"`
	Concurrency int           `mapstructure:"concurrency"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
	Azure       AzureConfig   `mapstructure:"azure"`

	// RetryMaxElapsed bounds retries of a single list or open call
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
}

type AzureConfig struct {
	Account   string `mapstructure:"account"`
	Key       string `mapstructure:"key"`
	Container string `mapstructure:"container"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
}

type BotConfig struct {
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
	RequestTTL  time.Duration `mapstructure:"request_ttl"`
	MaxSessions int64         `mapstructure:"max_sessions"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.HTTP.Host)
	port := strings.TrimSpace(c.HTTP.Port)
	return net.JoinHostPort(host, port)
}

// New returns a viper instance with defaults, environment binding and the
// config file search path. Keys map to environment variables by upper-casing
// and replacing dots, so fetch.timeout is read from FETCH_TIMEOUT.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	mustBindEnv(v, "http.port", "HTTP_PORT", "PORT")
	mustBindEnv(v, "http.host", "HTTP_HOST", "HOST")
	mustBindEnv(v, "telegram.token", "TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	mustBindEnv(v, "assets.source", "ASSETS_SOURCE", "ASSET_SOURCE")
	mustBindEnv(v, "log.level", "LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, path := range []string{".", "/etc/degenbot"} {
		v.AddConfigPath(path)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	fetch := storage.DefaultFetcherOptions()
	detect := detector.DefaultConfig()
	comp := compositor.DefaultOptions()
	pipe := pipeline.DefaultOptions()
	botOpts := bot.DefaultOptions()
	tg := telegram.DefaultOptions()

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.max_request_body_size", 1024*1024) // 1MB
	v.SetDefault("http.homepage", "https://degenstudios.media")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", tg.PollTimeout)
	v.SetDefault("telegram.connect_timeout", tg.ConnectTimeout)
	v.SetDefault("telegram.debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("fetch.timeout", fetch.Timeout)
	v.SetDefault("fetch.max_attempts", fetch.MaxAttempts)
	v.SetDefault("fetch.retry_wait_min", fetch.RetryWaitMin)
	v.SetDefault("fetch.retry_wait_max", fetch.RetryWaitMax)
	v.SetDefault("fetch.max_bytes", fetch.MaxBytes)
	v.SetDefault("fetch.max_pixels", fetch.MaxPixels)
	v.SetDefault("fetch.allowed_hosts", []string{})
	v.SetDefault("fetch.user_agent", fetch.UserAgent)

	v.SetDefault("detect.variant", "skin")
	v.SetDefault("detect.max_pixels", detect.MaxPixels)
	v.SetDefault("detect.blur_radius", detect.BlurRadius)
	v.SetDefault("detect.min_area", detect.MinArea)
	v.SetDefault("detect.reference_span", detect.ReferenceSpan)
	v.SetDefault("detect.max_rotation", detect.MaxRotation*180/math.Pi)
	v.SetDefault("detect.target_area", detect.TargetArea)
	v.SetDefault("detect.threshold", detect.Threshold)
	v.SetDefault("detect.fixed_width", detect.FixedWidth)

	v.SetDefault("composite.format", string(comp.Format))
	v.SetDefault("composite.jpeg_quality", comp.JPEGQuality)

	v.SetDefault("pipeline.workers", pipe.Workers)
	v.SetDefault("pipeline.max_in_flight", pipe.MaxInFlight)
	v.SetDefault("pipeline.queue_depth", pipe.QueueDepth)
	v.SetDefault("pipeline.queue_wait", pipe.QueueWait)
	v.SetDefault("pipeline.timeout", pipe.DefaultTimeout)

	v.SetDefault("assets.source", "local")
	v.SetDefault("assets.dir", "img")
	v.SetDefault("assets.default", pipe.DefaultAsset)
	v.SetDefault("assets.concurrency", 4)
	v.SetDefault("assets.load_timeout", 2*time.Minute)
	v.SetDefault("assets.retry_max_elapsed", 30*time.Second)
	v.SetDefault("assets.azure.account", "")
	v.SetDefault("assets.azure.key", "")
	v.SetDefault("assets.azure.container", "")
	v.SetDefault("assets.azure.prefix", "")
	v.SetDefault("assets.azure.endpoint", "")

	v.SetDefault("bot.rate_limit", botOpts.RateLimit)
	v.SetDefault("bot.rate_window", botOpts.RateWindow)
	v.SetDefault("bot.request_ttl", botOpts.RequestTTL)
	v.SetDefault("bot.max_sessions", botOpts.MaxSessions)
}

// BindFlags registers the command line flags that override configuration keys
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("config", "", "path to a config.toml file")

	flags.String("http-port", "8080", "port to serve HTTP on")
	mustBindPFlag(v, "http.port", flags.Lookup("http-port"))

	flags.Bool("http-enabled", true, "enable/disable the HTTP server")
	mustBindPFlag(v, "http.enabled", flags.Lookup("http-enabled"))

	flags.Bool("telegram-enabled", false, "enable/disable the Telegram bot")
	mustBindPFlag(v, "telegram.enabled", flags.Lookup("telegram-enabled"))

	flags.String("log-level", "info", "log level: debug, info, warn or error")
	mustBindPFlag(v, "log.level", flags.Lookup("log-level"))

	flags.String("assets-source", "local", "where overlay assets are loaded from: local or azure")
	mustBindPFlag(v, "assets.source", flags.Lookup("assets-source"))

	flags.String("assets-dir", "img", "directory holding overlay rasters and their YAML sidecars")
	mustBindPFlag(v, "assets.dir", flags.Lookup("assets-dir"))

	flags.String("detect-variant", "skin", "anchor detector: skin or fixed")
	mustBindPFlag(v, "detect.variant", flags.Lookup("detect-variant"))
}

func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func mustBindEnv(v *viper.Viper, input ...string) {
	if err := v.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// Load reads the optional config file and returns the validated configuration.
// A missing config file on the search path is not an error; an explicitly
// configured file that cannot be read is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.HTTP.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %q", c.HTTP.Port)
	}
	if c.HTTP.MaxRequestBodySize <= 0 {
		return fmt.Errorf("HTTP_MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.HTTP.MaxRequestBodySize)
	}
	if c.HTTP.RequestTimeout <= 0 || c.Fetch.Timeout <= 0 || c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, pipeline=%s)",
			c.HTTP.RequestTimeout, c.Fetch.Timeout, c.Pipeline.Timeout)
	}
	if !c.HTTP.Enabled && !c.Telegram.Enabled {
		return errors.New("at least one of HTTP_ENABLED or TELEGRAM_ENABLED must be true")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("TELEGRAM_TOKEN is required when the Telegram bot is enabled")
	}

	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be >= 1 (got %d)", c.Fetch.MaxAttempts)
	}
	if c.Fetch.RetryWaitMin <= 0 || c.Fetch.RetryWaitMax < c.Fetch.RetryWaitMin {
		return fmt.Errorf("invalid fetch retry waits (min=%s, max=%s)", c.Fetch.RetryWaitMin, c.Fetch.RetryWaitMax)
	}
	if c.Fetch.MaxBytes <= 0 || c.Fetch.MaxPixels <= 0 {
		return fmt.Errorf("FETCH_MAX_BYTES and FETCH_MAX_PIXELS must be > 0")
	}

	switch c.Detect.Variant {
	case "skin", "fixed":
	default:
		return fmt.Errorf("unsupported DETECT_VARIANT %q (want skin or fixed)", c.Detect.Variant)
	}
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	if _, err := compositor.NewOverlayCompositor(c.CompositorOptions()); err != nil {
		return err
	}

	if c.Pipeline.MaxInFlight < 1 || c.Pipeline.QueueDepth < 0 || c.Pipeline.QueueWait < 0 {
		return fmt.Errorf("invalid pipeline limits (max_in_flight=%d, queue_depth=%d, queue_wait=%s)",
			c.Pipeline.MaxInFlight, c.Pipeline.QueueDepth, c.Pipeline.QueueWait)
	}

	switch c.Assets.Source {
	case "local":
		if c.Assets.Dir == "" {
			return errors.New("ASSETS_DIR is required for the local asset source")
		}
	case "azure":
		az := c.Assets.Azure
		if az.Account == "" || az.Key == "" || az.Container == "" {
			return errors.New("ASSETS_AZURE_ACCOUNT, ASSETS_AZURE_KEY and ASSETS_AZURE_CONTAINER are required for the azure asset source")
		}
	default:
		return fmt.Errorf("unsupported ASSETS_SOURCE %q (want local or azure)", c.Assets.Source)
	}
	if c.Assets.Default == "" {
		return errors.New("ASSETS_DEFAULT must not be empty")
	}

	if c.Bot.RateLimit < 1 || c.Bot.RateWindow <= 0 || c.Bot.RequestTTL <= 0 {
		return fmt.Errorf("invalid bot limits (rate_limit=%d, rate_window=%s, request_ttl=%s)",
			c.Bot.RateLimit, c.Bot.RateWindow, c.Bot.RequestTTL)
	}
	return nil
}

// FetcherOptions returns the image fetcher settings
func (c *Config) FetcherOptions() storage.FetcherOptions {
	return storage.FetcherOptions{
		Timeout:      c.Fetch.Timeout,
		MaxAttempts:  c.Fetch.MaxAttempts,
		RetryWaitMin: c.Fetch.RetryWaitMin,
		RetryWaitMax: c.Fetch.RetryWaitMax,
		MaxBytes:     c.Fetch.MaxBytes,
		MaxPixels:    c.Fetch.MaxPixels,
		AllowedHosts: c.Fetch.AllowedHosts,
		UserAgent:    c.Fetch.UserAgent,
	}
}

// DetectorConfig converts detection settings; rotation is configured in degrees
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		MaxPixels:     c.Detect.MaxPixels,
		BlurRadius:    c.Detect.BlurRadius,
		MinArea:       c.Detect.MinArea,
		ReferenceSpan: c.Detect.ReferenceSpan,
		MaxRotation:   c.Detect.MaxRotation * math.Pi / 180,
		TargetArea:    c.Detect.TargetArea,
		Threshold:     c.Detect.Threshold,
		FixedWidth:    c.Detect.FixedWidth,
	}
}

func (c *Config) CompositorOptions() compositor.Options {
	return compositor.Options{
		Format:      compositor.Format(strings.ToLower(c.Composite.Format)),
		JPEGQuality: c.Composite.JPEGQuality,
	}
}

func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Workers:        c.Pipeline.Workers,
		MaxInFlight:    c.Pipeline.MaxInFlight,
		QueueDepth:     c.Pipeline.QueueDepth,
		QueueWait:      c.Pipeline.QueueWait,
		DefaultTimeout: c.Pipeline.Timeout,
		DefaultAsset:   c.Assets.Default,
	}
}

func (c *Config) BotOptions(botName string) bot.Options {
	return bot.Options{
		BotName:        botName,
		DefaultAsset:   c.Assets.Default,
		RequestTTL:     c.Bot.RequestTTL,
		RequestTimeout: c.Pipeline.Timeout,
		RateLimit:      c.Bot.RateLimit,
		RateWindow:     c.Bot.RateWindow,
		MaxSessions:    c.Bot.MaxSessions,
	}
}

func (c *Config) TelegramOptions() telegram.Options {
	return telegram.Options{
		Token:          c.Telegram.Token,
		PollTimeout:    c.Telegram.PollTimeout,
		ConnectTimeout: c.Telegram.ConnectTimeout,
		Debug:          c.Telegram.Debug,
	}
}

func (c *Config) AzureOptions() storage.AzureOptions {
	return storage.AzureOptions{
		AccountName: c.Assets.Azure.Account,
		AccountKey:  c.Assets.Azure.Key,
		Container:   c.Assets.Azure.Container,
		Prefix:      c.Assets.Azure.Prefix,
		Endpoint:    c.Assets.Azure.Endpoint,
	}
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig marks a configuration that must stop the process before polling starts.
var ErrConfig = errors.New("config error")

// Notifier transports.
const (
	NotifierPushover = "pushover"
	NotifierTelegram = "telegram"
)

// Fetch modes.
const (
	FetchHTTP    = "http"
	FetchBrowser = "browser"
)

// Store drivers.
const (
	StoreBadger = "badger"
	StoreSQLite = "sqlite"
)

// defaultStorePaths is used when STORE_PATH is unset. Badger wants a
// directory, SQLite a file.
var defaultStorePaths = map[string]string{
	StoreBadger: "./badger_data",
	StoreSQLite: "./items.db",
}

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	// Pushover credentials.
	AppToken    string `mapstructure:"APP_TOKEN"`
	GroupToken  string `mapstructure:"GROUP_TOKEN"`
	PushoverURL string `mapstructure:"PUSHOVER_URL"`

	// Telegram credentials, used when Notifier is "telegram".
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `mapstructure:"TELEGRAM_CHAT_ID"`

	Notifier string `mapstructure:"NOTIFIER"`

	SourceURL string `mapstructure:"SOURCE_URL"`
	FetchMode string `mapstructure:"FETCH_MODE"`
	UserAgent string `mapstructure:"USER_AGENT"`

	PollInterval     time.Duration `mapstructure:"POLL_INTERVAL"`
	DispatchInterval time.Duration `mapstructure:"DISPATCH_INTERVAL"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	StorePath      string        `mapstructure:"STORE_PATH"`
	GCInterval     time.Duration `mapstructure:"GC_INTERVAL"`
	InsertAttempts int           `mapstructure:"INSERT_ATTEMPTS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"APP_TOKEN":          "",
	"GROUP_TOKEN":        "",
	"PUSHOVER_URL":       "https://api.pushover.net/1/messages.json",
	"TELEGRAM_BOT_TOKEN": "",
	"TELEGRAM_CHAT_ID":   "",
	"NOTIFIER":           NotifierPushover,
	"SOURCE_URL":         "https://annonces.sleepingmoney.com",
	"FETCH_MODE":         FetchHTTP,
	"USER_AGENT":         "sleepwatch/1.0",
	"POLL_INTERVAL":      "60s",
	"DISPATCH_INTERVAL":  "1s",
	"REQUEST_TIMEOUT":    "20s",
	"STORE_DRIVER":       StoreBadger,
	"STORE_PATH":         "",
	"GC_INTERVAL":        "5m",
	"INSERT_ATTEMPTS":    3,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "json",
}

// LoadConfig reads configuration from path/config.yaml (optional) and environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Every key needs a default so AutomaticEnv values reach Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("%w: reading config file: %v", ErrConfig, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("%w: unable to decode into struct: %v", ErrConfig, err)
	}

	// Fill the path after decoding so it follows the chosen driver.
	if config.StorePath == "" {
		config.StorePath = defaultStorePaths[config.StoreDriver]
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks required secrets and value ranges.
func (c Config) Validate() error {
	var problems []string

	switch c.Notifier {
	case NotifierPushover:
		if c.AppToken == "" {
			problems = append(problems, "APP_TOKEN is not set")
		}
		if c.GroupToken == "" {
			problems = append(problems, "GROUP_TOKEN is not set")
		}
	case NotifierTelegram:
		if c.TelegramBotToken == "" {
			problems = append(problems, "TELEGRAM_BOT_TOKEN is not set")
		}
		if c.TelegramChatID == "" {
			problems = append(problems, "TELEGRAM_CHAT_ID is not set")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown NOTIFIER %q", c.Notifier))
	}

	if u, err := url.Parse(c.SourceURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("SOURCE_URL %q is not an absolute url", c.SourceURL))
	}
	if c.FetchMode != FetchHTTP && c.FetchMode != FetchBrowser {
		problems = append(problems, fmt.Sprintf("unknown FETCH_MODE %q", c.FetchMode))
	}
	if _, ok := defaultStorePaths[c.StoreDriver]; !ok {
		problems = append(problems, fmt.Sprintf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.StorePath == "" {
		problems = append(problems, "STORE_PATH is empty")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "POLL_INTERVAL must be positive")
	}
	if c.DispatchInterval <= 0 {
		problems = append(problems, "DISPATCH_INTERVAL must be positive")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "REQUEST_TIMEOUT must be positive")
	}
	if c.GCInterval <= 0 {
		problems = append(problems, "GC_INTERVAL must be positive")
	}
	if c.InsertAttempts < 1 {
		problems = append(problems, "INSERT_ATTEMPTS must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

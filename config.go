package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Platform names a supported ticket vendor.
type Platform string

const (
	PlatformTixcraft Platform = "tixcraft"
	PlatformKKTix    Platform = "kktix"
	PlatformKham     Platform = "kham"

	DefaultPlatform = PlatformTixcraft
)

// ParsePlatform matches a configured vendor name case-insensitively.
func ParsePlatform(name string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(name))) {
	case PlatformTixcraft:
		return PlatformTixcraft, true
	case PlatformKKTix:
		return PlatformKKTix, true
	case PlatformKham:
		return PlatformKham, true
	}
	return DefaultPlatform, false
}

const (
	envAccount  = "TICKET_ACCOUNT"
	envPassword = "TICKET_PASSWORD"
)

type Config struct {
	Platform  string   `yaml:"platform"`
	AutoLogin bool     `yaml:"auto_login"`
	UserInfo  UserInfo `yaml:"user_info"`

	KKTix KKTixConfig `yaml:"kktix"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	Headless           bool   `yaml:"headless"`

	// OCREndpoint accepts a base64 image body and answers with plain text.
	OCREndpoint string `yaml:"ocr_endpoint"`

	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	CaptchaWaitAttempts   int `yaml:"captcha_wait_attempts"`
	CaptchaPollIntervalMs int `yaml:"captcha_poll_interval_ms"`

	RefreshRetries   int `yaml:"refresh_retries"`
	RefreshBackoffMs int `yaml:"refresh_backoff_ms"`

	QueuePollAttempts   int `yaml:"queue_poll_attempts"`
	QueuePollIntervalMs int `yaml:"queue_poll_interval_ms"`

	RetryDelayMs       int `yaml:"retry_delay_ms"`
	URLChangeTimeoutMs int `yaml:"url_change_timeout_ms"`

	SaleStartTime          string `yaml:"sale_start_time"`
	StartBeforeSaleSeconds int    `yaml:"start_before_sale_seconds"`

	DebugMode bool `yaml:"debug_mode"`
}

type UserInfo struct {
	Account  string `yaml:"account"`
	Password string `yaml:"password"`
}

type KKTixConfig struct {
	EventPage           string `yaml:"event_page"`
	TicketName          string `yaml:"ticket_name"`
	NumOfTicket         int    `yaml:"num_of_ticket"`
	RedirectToEventPage bool   `yaml:"redirect_to_event_page"`

	// CaptchaAnswer is sent as the text-captcha answer when the event asks
	// a question. Challenge-response captchas are not solved here.
	CaptchaAnswer string `yaml:"captcha_answer"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		Platform:               string(DefaultPlatform),
		AutoLogin:              false,
		BrowserProfilePath:     filepath.Join(userDataDir, "browser-profile"),
		Headless:               false,
		OCREndpoint:            "http://127.0.0.1:9898/ocr/b64/text",
		HTTPTimeoutSeconds:     10,
		CaptchaWaitAttempts:    10,
		CaptchaPollIntervalMs:  500,
		RefreshRetries:         20,
		RefreshBackoffMs:       500,
		QueuePollAttempts:      240,
		QueuePollIntervalMs:    250,
		RetryDelayMs:           250,
		URLChangeTimeoutMs:     3000,
		StartBeforeSaleSeconds: 30,
		KKTix: KKTixConfig{
			NumOfTicket: 1,
		},
	}
}

// LoadConfig reads the YAML config at path, writing defaults when the file
// does not exist yet. A .env file next to it may supply credentials.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, err
		}
	}

	// Missing .env is fine; existing environment variables win.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	config.applyEnv()

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if account := os.Getenv(envAccount); account != "" {
		c.UserInfo.Account = account
	}
	if password := os.Getenv(envPassword); password != "" {
		c.UserInfo.Password = password
	}
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports settings the selected platform cannot run without.
func (c *Config) Validate() error {
	platform, _ := ParsePlatform(c.Platform)

	if c.AutoLogin && (c.UserInfo.Account == "" || c.UserInfo.Password == "") {
		return fmt.Errorf("auto_login requires user_info.account and user_info.password (or %s/%s)", envAccount, envPassword)
	}

	if platform == PlatformKKTix {
		if c.KKTix.RedirectToEventPage && c.KKTix.EventPage == "" {
			return fmt.Errorf("kktix.redirect_to_event_page requires kktix.event_page")
		}
		if c.KKTix.TicketName == "" {
			return fmt.Errorf("kktix.ticket_name is required")
		}
		if c.KKTix.NumOfTicket < 1 {
			return fmt.Errorf("kktix.num_of_ticket must be at least 1, got %d", c.KKTix.NumOfTicket)
		}
	}

	if c.SaleStartTime != "" {
		if _, err := ParseSaleTime(c.SaleStartTime); err != nil {
			return err
		}
	}

	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) httpTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./ticket-helper-data"
	}
	return filepath.Join(home, ".ticket-helper")
}

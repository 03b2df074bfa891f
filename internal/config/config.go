// Package config provides environment-variable-first configuration loading
// with an optional YAML file base layer and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shineum/comment-notifier/internal/smtpclient"
	tlsutil "github.com/shineum/comment-notifier/internal/tls"
)

// Provider names accepted in the provider setting.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

const (
	defaultSMTPPort        = 465
	defaultSMTPSecure      = "ssl"
	defaultSMTPTimeout     = 30 * time.Second
	defaultOwnerID         = 1
	defaultAIAPIURL        = "https://api.openai.com/v1/chat/completions"
	defaultAIModel         = "gpt-4o-mini"
	defaultSummaryMaxInput = 20000
	defaultHTTPListen      = ":8025"
)

// Config holds the complete application configuration.
type Config struct {
	Provider   string           `yaml:"provider" validate:"omitempty,oneof=smtp ses stdout"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Sender     SenderConfig     `yaml:"sender"`
	Site       SiteConfig       `yaml:"site"`
	Mail       MailConfig       `yaml:"mail"`
	ServerChan ServerChanConfig `yaml:"serverchan"`
	Review     ReviewConfig     `yaml:"review"`
	Summary    SummaryConfig    `yaml:"summary"`
	SES        SESConfig        `yaml:"ses"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SMTPConfig describes the outbound SMTP relay.
type SMTPConfig struct {
	Host          string        `yaml:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port          int           `yaml:"port" validate:"min=1,max=65535"`
	Secure        string        `yaml:"secure" validate:"oneof=none tls ssl"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	LocalName     string        `yaml:"local_name"`
	Timeout       time.Duration `yaml:"timeout" validate:"min=0"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	CAFile        string        `yaml:"ca_file" validate:"omitempty,file"`
	Debug         bool          `yaml:"debug"`
}

// SenderConfig is the From identity of notification mails.
type SenderConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address" validate:"omitempty,email"`
}

// SiteConfig describes the blog the notifications are about.
type SiteConfig struct {
	Title   string `yaml:"title"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	OwnerID int64  `yaml:"owner_id" validate:"min=0"`
}

// MailConfig holds the reply notification templates. Empty values fall
// back to the built-in templates.
type MailConfig struct {
	Subject  string `yaml:"subject"`
	BodyFile string `yaml:"body_file" validate:"omitempty,file"`
	OwnerTag string `yaml:"owner_tag"`
}

// ServerChanConfig configures push notifications for new comments.
type ServerChanConfig struct {
	SendKey   string `yaml:"send_key"`
	Title     string `yaml:"title"`
	Content   string `yaml:"content"`
	Tags      string `yaml:"tags"`
	Short     string `yaml:"short"`
	SkipOwner bool   `yaml:"skip_owner"`
}

// ReviewConfig configures AI moderation of waiting comments.
type ReviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIURL  string `yaml:"api_url" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`
}

// SummaryConfig configures AI post summaries. Unset API settings are
// shared with the review section.
type SummaryConfig struct {
	APIURL   string `yaml:"api_url" validate:"omitempty,url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Prompt   string `yaml:"prompt"`
	MaxInput int    `yaml:"max_input" validate:"min=0"`
}

// SESConfig holds AWS SES credentials.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// HTTPConfig configures the webhook listener.
type HTTPConfig struct {
	Listen string `yaml:"listen" validate:"required"`
	Token  string `yaml:"token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// LoadEnvFile loads variables from a .env file into the process
// environment. Variables already set are left alone.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg.finish()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg.finish()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// finish fills derived values and validates the result.
func (c *Config) finish() (*Config, error) {
	c.Provider = strings.ToLower(c.Provider)
	c.SMTP.Secure = strings.ToLower(c.SMTP.Secure)
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	if c.Sender.Name == "" {
		c.Sender.Name = c.Site.Title
	}
	if c.Sender.Address == "" && strings.Contains(c.SMTP.Username, "@") {
		c.Sender.Address = c.SMTP.Username
	}

	if c.Summary.APIURL == "" {
		c.Summary.APIURL = c.Review.APIURL
	}
	if c.Summary.APIKey == "" {
		c.Summary.APIKey = c.Review.APIKey
	}
	if c.Summary.Model == "" {
		c.Summary.Model = c.Review.Model
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.SelectedProvider() {
	case ProviderSMTP:
		if !c.SMTPConfigured() {
			return errors.New("invalid config: provider smtp requires smtp.host")
		}
		if c.Sender.Address == "" {
			return errors.New("invalid config: sender.address is required (or an smtp.username that is an address)")
		}
	case ProviderSES:
		if !c.SESConfigured() {
			return errors.New("invalid config: provider ses requires ses.region")
		}
		if c.Sender.Address == "" {
			return errors.New("invalid config: sender.address is required")
		}
	}
	return nil
}

// SelectedProvider returns the configured provider, or smtp when an SMTP
// host is set and stdout otherwise.
func (c *Config) SelectedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	if c.SMTPConfigured() {
		return ProviderSMTP
	}
	return ProviderStdout
}

// SMTPConfigured returns true if an SMTP relay host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if an SES region is set. Credentials may come
// from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// ReviewConfigured returns true if AI moderation is enabled and usable.
func (c *Config) ReviewConfigured() bool {
	return c.Review.Enabled && c.Review.APIURL != "" && c.Review.APIKey != ""
}

// SummaryConfigured returns true if AI summaries can be generated.
func (c *Config) SummaryConfigured() bool {
	return c.Summary.APIURL != "" && c.Summary.APIKey != ""
}

// ServerChanConfigured returns true if push notifications are enabled.
func (c *Config) ServerChanConfigured() bool {
	return c.ServerChan.SendKey != ""
}

// SMTPConnection converts the SMTP section into a client configuration.
func (c *Config) SMTPConnection() (smtpclient.ConnectionConfig, error) {
	mode, err := smtpclient.ParseSecurityMode(c.SMTP.Secure)
	if err != nil {
		return smtpclient.ConnectionConfig{}, err
	}

	tlsConfig, err := tlsutil.ClientConfig(c.SMTP.Host, c.SMTP.CAFile, c.SMTP.TLSSkipVerify)
	if err != nil {
		return smtpclient.ConnectionConfig{}, err
	}

	return smtpclient.ConnectionConfig{
		Host:      c.SMTP.Host,
		Port:      c.SMTP.Port,
		Security:  mode,
		Username:  c.SMTP.Username,
		Password:  c.SMTP.Password,
		LocalName: c.SMTP.LocalName,
		Timeout:   c.SMTP.Timeout,
		TLSConfig: tlsConfig,
		Debug:     c.SMTP.Debug,
	}, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = defaultSMTPPort
	c.SMTP.Secure = defaultSMTPSecure
	c.SMTP.Timeout = defaultSMTPTimeout
	c.Site.OwnerID = defaultOwnerID
	c.ServerChan.SkipOwner = true
	c.Review.APIURL = defaultAIAPIURL
	c.Review.Model = defaultAIModel
	c.Summary.MaxInput = defaultSummaryMaxInput
	c.HTTP.Listen = defaultHTTPListen
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Provider, "PROVIDER")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setString(&c.SMTP.Secure, "SMTP_SECURE")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.LocalName, "SMTP_LOCAL_NAME")
	setString(&c.SMTP.CAFile, "SMTP_CA_FILE")

	setString(&c.Sender.Name, "MAIL_FROM_NAME")
	setString(&c.Sender.Address, "MAIL_FROM_ADDRESS")

	setString(&c.Site.Title, "SITE_TITLE")
	setString(&c.Site.URL, "SITE_URL")

	setString(&c.ServerChan.SendKey, "SERVERCHAN_SEND_KEY")

	setString(&c.Review.APIURL, "AI_API_URL")
	setString(&c.Review.APIKey, "AI_API_KEY")
	setString(&c.Review.Model, "AI_MODEL")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setString(&c.HTTP.Token, "HTTP_TOKEN")

	setString(&c.Logging.Level, "LOG_LEVEL")

	return errors.Join(
		setInt(&c.SMTP.Port, "SMTP_PORT"),
		setDuration(&c.SMTP.Timeout, "SMTP_TIMEOUT"),
		setBool(&c.SMTP.TLSSkipVerify, "SMTP_TLS_SKIP_VERIFY"),
		setBool(&c.SMTP.Debug, "SMTP_DEBUG"),
		setInt64(&c.Site.OwnerID, "SITE_OWNER_ID"),
		setBool(&c.Review.Enabled, "REVIEW_ENABLED"),
	)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// setDuration accepts Go durations ("45s") and bare seconds ("45").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

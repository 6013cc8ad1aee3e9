package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mailbox       MailboxConfig       `mapstructure:"mailbox"`
	Payments      PaymentsConfig      `mapstructure:"payments"`
	Email         EmailConfig         `mapstructure:"email"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, mysql, sqlite3
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MailboxConfig holds the IMAP account bank notifications arrive in.
type MailboxConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Folder             string        `mapstructure:"folder"`
	TLS                bool          `mapstructure:"tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	// From addresses or domains allowed to carry payments; empty trusts all.
	TrustedSenders     []string      `mapstructure:"trusted_senders"`
	MaxFetch           int           `mapstructure:"max_fetch"`
	// Mark untrusted_sender, unparsed and not_pending messages seen.
	MarkSkippedSeen    bool          `mapstructure:"mark_skipped_seen"`
}

type PaymentsConfig struct {
	Schedule         string        `mapstructure:"schedule"`
	TimeoutSeconds   int           `mapstructure:"timeout_seconds"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	DescriptionLabel string        `mapstructure:"description_label"`
	TokenPrefix      string        `mapstructure:"token_prefix"`
}

type EmailConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	From    string        `mapstructure:"from"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	AuthType   string `mapstructure:"auth_type"`
	TLSMode    string `mapstructure:"tls_mode"` // "", starttls, smtps
	SkipVerify bool   `mapstructure:"skip_verify"`
}

type NotificationsConfig struct {
	ApplicationSubmitted bool     `mapstructure:"application_submitted"`
	AdminRecipients      []string `mapstructure:"admin_recipients"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Elite Back Office")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.timezone", "Europe/Istanbul")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "elite")
	v.SetDefault("database.user", "elite")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "elite.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "elite:")

	v.SetDefault("mailbox.enabled", true)
	v.SetDefault("mailbox.host", "")
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.username", "")
	v.SetDefault("mailbox.password", "")
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("mailbox.insecure_skip_verify", false)
	v.SetDefault("mailbox.dial_timeout", 10*time.Second)
	v.SetDefault("mailbox.command_timeout", 30*time.Second)
	v.SetDefault("mailbox.trusted_senders", []string{})
	v.SetDefault("mailbox.max_fetch", 100)
	v.SetDefault("mailbox.mark_skipped_seen", true)

	v.SetDefault("payments.schedule", "@every 2m")
	v.SetDefault("payments.timeout_seconds", 90)
	v.SetDefault("payments.lease_ttl", 5*time.Minute)
	v.SetDefault("payments.description_label", "Elite Model Başvuru Ücreti")
	v.SetDefault("payments.token_prefix", "EM")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.from", "")
	v.SetDefault("email.smtp.host", "localhost")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.user", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.auth_type", "plain")
	v.SetDefault("email.smtp.tls_mode", "starttls")
	v.SetDefault("email.smtp.skip_verify", false)
	v.SetDefault("email.timeout", 10*time.Second)

	v.SetDefault("notifications.application_submitted", true)
	v.SetDefault("notifications.admin_recipients", []string{})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("ELITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load initializes the configuration with hot reload support.
// A missing config.yaml is not an error: defaults and ELITE_* variables apply.
// A .env file next to config.yaml is loaded first without overriding the
// real environment.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		if err = loadDotEnv(configPath); err != nil {
			return
		}
		v := newViper()
		v.SetConfigName("config")
		if configPath != "" {
			v.AddConfigPath(configPath)
		}

		fileLoaded := true
		if rerr := v.ReadInConfig(); rerr != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(rerr, &notFound) {
				err = fmt.Errorf("failed to read config: %w", rerr)
				return
			}
			fileLoaded = false
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
		Set(loaded)

		if !fileLoaded {
			return
		}
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("config: file changed: %s", e.Name)
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				log.Printf("config: reload failed: %v", err)
				return
			}
			Set(next)
			log.Printf("config: reloaded")
		})
	})

	return err
}

func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// LoadFromFile loads configuration from a specific file without watching it.
func LoadFromFile(configFile string) error {
	v := newViper()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	Set(loaded)
	return nil
}

// Defaults returns a configuration populated only from defaults and environment.
func Defaults() *Config {
	out := &Config{}
	if err := newViper().Unmarshal(out); err != nil {
		log.Printf("config: defaults unmarshal failed: %v", err)
	}
	return out
}

// Get returns the current configuration (thread-safe).
// Callers should call Get on every use so reloaded values take effect.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Set swaps the active configuration.
func Set(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// GetRedisAddr returns the Redis server address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Configured reports whether enough of the mailbox is set to attempt a login.
func (c *MailboxConfig) Configured() bool {
	return c != nil && c.Host != "" && c.Username != "" && c.Password != ""
}

// EffectiveTLSMode normalizes the SMTP TLS mode.
func (c *EmailConfig) EffectiveTLSMode() string {
	mode := strings.ToLower(strings.TrimSpace(c.SMTP.TLSMode))
	switch mode {
	case "smtps", "ssl", "tls":
		return "smtps"
	case "starttls":
		return "starttls"
	default:
		return ""
	}
}

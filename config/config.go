// Package config loads and validates the monitor's YAML configuration: the
// chain catalog, monitoring policy, database, message queue, and webhook
// settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

var log = logrus.WithField("prefix", "config")

// Monitoring strategies selectable at runtime.
const (
	StrategyLargeAmount  = "large_amount"
	StrategyWatchAddress = "watch_address"
)

// Environment overrides for database credentials, matching the deployment
// convention where secrets never live in the config file.
const (
	EnvDatabaseHostname = "DATABASE_HOSTNAME"
	EnvDatabasePort     = "DATABASE_PORT"
	EnvDatabaseUser     = "DATABASE_USER"
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvDatabaseName     = "DATABASE_NAME"
)

// Decimal is an exact decimal value carried as a string so thresholds and
// amounts never round-trip through binary floats.
type Decimal string

// UnmarshalYAML accepts both quoted strings and bare YAML numbers.
func (d *Decimal) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		*d = Decimal(strings.TrimSpace(s))
		return nil
	}
	var f float64
	if err := unmarshal(&f); err != nil {
		return errors.New("decimal value must be a number or a string")
	}
	*d = Decimal(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (d Decimal) String() string {
	return string(d)
}

// Config is the root of the YAML configuration file.
type Config struct {
	ActiveChain  string                  `yaml:"active_chain"`
	Chains       map[string]*ChainConfig `yaml:"chains"`
	Monitor      MonitorConfig           `yaml:"monitor"`
	RabbitMQ     *RabbitMQConfig         `yaml:"rabbitmq"`
	Notification NotificationConfig      `yaml:"notification"`
	Database     DatabaseConfig          `yaml:"database"`
	HTTP         HTTPConfig              `yaml:"http"`
}

// MonitorConfig carries the pipeline knobs shared by every chain.
type MonitorConfig struct {
	Strategy                    string             `yaml:"strategy"`
	RequiredConfirmations       int                `yaml:"required_confirmations"`
	ConfirmationCheckInterval   int                `yaml:"confirmation_check_interval"` // seconds
	CacheTTL                    float64            `yaml:"cache_ttl"`                   // seconds
	TransactionTimeout          int                `yaml:"transaction_timeout"`         // seconds
	MaxRPCPerSecond             int                `yaml:"max_rpc_per_second"`
	MaxRPCPerDay                int                `yaml:"max_rpc_per_day"`
	StatsLogInterval            int                `yaml:"stats_log_interval"` // seconds
	Thresholds                  map[string]Decimal `yaml:"thresholds"`
	WatchAddresses              []string           `yaml:"watch_addresses"`
	HighValueThresholds         map[string]Decimal `yaml:"high_value_thresholds"`
	HighValueExtraConfirmations int                `yaml:"high_value_extra_confirmations"`
}

// RabbitMQConfig configures the wallet-updates consumer. A nil section
// disables the listener entirely.
type RabbitMQConfig struct {
	Host          string              `yaml:"host"`
	Port          int                 `yaml:"port"`
	User          string              `yaml:"user"`
	Password      string              `yaml:"pass"`
	WalletUpdates WalletUpdatesConfig `yaml:"wallet_updates"`
}

// WalletUpdatesConfig names the fanout exchange; the chain name is appended
// at runtime so parallel observers receive the same updates independently.
type WalletUpdatesConfig struct {
	ExchangeName string `yaml:"exchange_name"`
}

// NotificationConfig configures webhook delivery.
type NotificationConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	URL         string `yaml:"url"`
	Timeout     int    `yaml:"timeout"`     // seconds, per attempt
	RetryTimes  int    `yaml:"retry_times"` // max attempts, including the first
	RetryDelay  int    `yaml:"retry_delay"` // seconds between inline attempts
	CleanupDays int    `yaml:"cleanup_days"`
}

// DatabaseConfig carries Postgres connection parameters and pool sizing.
type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	MaxIdle     int    `yaml:"max_idle_connections"`
	MaxOpen     int    `yaml:"max_open_connections"`
	MaxLifetime int    `yaml:"max_conn_lifetime"` // seconds
}

// HTTPConfig binds the monitoring/admin server.
type HTTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Disabled bool   `yaml:"disabled"`
}

// Load reads, defaults, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", path)
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	m := &c.Monitor
	if m.Strategy == "" {
		m.Strategy = StrategyWatchAddress
	}
	if m.RequiredConfirmations == 0 {
		m.RequiredConfirmations = 3
	}
	if m.ConfirmationCheckInterval == 0 {
		m.ConfirmationCheckInterval = 10
	}
	if m.CacheTTL == 0 {
		m.CacheTTL = 1.5
	}
	if m.TransactionTimeout == 0 {
		m.TransactionTimeout = 300
	}
	if m.MaxRPCPerSecond == 0 {
		m.MaxRPCPerSecond = 4
	}
	if m.MaxRPCPerDay == 0 {
		m.MaxRPCPerDay = 90000
	}
	if m.StatsLogInterval == 0 {
		m.StatsLogInterval = 300
	}
	if m.HighValueExtraConfirmations == 0 {
		m.HighValueExtraConfirmations = 5
	}

	n := &c.Notification
	if n.Timeout == 0 {
		n.Timeout = 30
	}
	if n.RetryTimes == 0 {
		n.RetryTimes = 3
	}
	if n.RetryDelay == 0 {
		n.RetryDelay = 5
	}
	if n.CleanupDays == 0 {
		n.CleanupDays = 30
	}

	if c.RabbitMQ != nil {
		r := c.RabbitMQ
		if r.Host == "" {
			r.Host = "localhost"
		}
		if r.Port == 0 {
			r.Port = 5672
		}
		if r.User == "" {
			r.User = "guest"
		}
		if r.Password == "" {
			r.Password = "guest"
		}
		if r.WalletUpdates.ExchangeName == "" {
			r.WalletUpdates.ExchangeName = "wallet_updates"
		}
	}

	d := &c.Database
	if v := os.Getenv(EnvDatabaseHostname); v != "" {
		d.Host = v
	}
	if v := os.Getenv(EnvDatabasePort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			d.Port = p
		}
	}
	if v := os.Getenv(EnvDatabaseUser); v != "" {
		d.User = v
	}
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		d.Password = v
	}
	if v := os.Getenv(EnvDatabaseName); v != "" {
		d.Name = v
	}
	if d.Host == "" {
		d.Host = "localhost"
	}
	if d.Port == 0 {
		d.Port = 5432
	}
	if d.MaxIdle == 0 {
		d.MaxIdle = 2
	}
	if d.MaxOpen == 0 {
		d.MaxOpen = 8
	}
	if d.MaxLifetime == 0 {
		d.MaxLifetime = 300
	}

	h := &c.HTTP
	if h.Host == "" {
		h.Host = "127.0.0.1"
	}
	if h.Port == 0 {
		h.Port = 8080
	}

	for name, chain := range c.Chains {
		chain.Name = name
		chain.setDefaults()
	}
}

func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config declares no chains")
	}
	switch c.Monitor.Strategy {
	case StrategyLargeAmount, StrategyWatchAddress:
	default:
		return errors.Errorf("unknown monitor strategy %q", c.Monitor.Strategy)
	}
	if c.ActiveChain != "" {
		if _, ok := c.Chains[c.ActiveChain]; !ok {
			return errors.Errorf("active_chain %q is not in the chain catalog", c.ActiveChain)
		}
	}
	for name, chain := range c.Chains {
		if err := chain.validate(); err != nil {
			return errors.Wrapf(err, "chain %q", name)
		}
	}
	if c.Notification.IsEnabled() && c.Notification.URL == "" {
		return errors.New("notification is enabled but notification.url is empty")
	}
	return nil
}

// Chain resolves the chain selected on the command line, falling back to
// active_chain when the argument is empty.
func (c *Config) Chain(name string) (*ChainConfig, error) {
	if name == "" {
		name = c.ActiveChain
	}
	if name == "" {
		return nil, errors.New("no chain selected: pass a chain name or set active_chain")
	}
	chain, ok := c.Chains[name]
	if !ok {
		return nil, errors.Errorf("chain %q is not in the chain catalog", name)
	}
	return chain, nil
}

// ConfirmationsFor returns the per-chain confirmation requirement, falling
// back to the monitor-wide default.
func (c *Config) ConfirmationsFor(chain *ChainConfig) int {
	if chain.ConfirmationBlocks > 0 {
		return chain.ConfirmationBlocks
	}
	return c.Monitor.RequiredConfirmations
}

// IsEnabled reports whether webhook delivery is on. Missing means enabled.
func (n *NotificationConfig) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// CheckInterval returns the confirmation tick period.
func (m *MonitorConfig) CheckInterval() time.Duration {
	return time.Duration(m.ConfirmationCheckInterval) * time.Second
}

// HeadCacheTTL returns the cached-head time to live.
func (m *MonitorConfig) HeadCacheTTL() time.Duration {
	return time.Duration(m.CacheTTL * float64(time.Second))
}

// TransferTimeout returns the pending-transfer eviction age.
func (m *MonitorConfig) TransferTimeout() time.Duration {
	return time.Duration(m.TransactionTimeout) * time.Second
}

// StatsInterval returns the stats reporting period.
func (m *MonitorConfig) StatsInterval() time.Duration {
	return time.Duration(m.StatsLogInterval) * time.Second
}

// AttemptTimeout returns the per-attempt webhook timeout.
func (n *NotificationConfig) AttemptTimeout() time.Duration {
	return time.Duration(n.Timeout) * time.Second
}

// InlineRetryDelay returns the pause between inline delivery attempts.
func (n *NotificationConfig) InlineRetryDelay() time.Duration {
	return time.Duration(n.RetryDelay) * time.Second
}

// BackgroundRetryDelay returns the spacing applied to background retries.
// Background attempts are spaced in minutes where inline attempts use
// seconds, matching the documented five minute default.
func (n *NotificationConfig) BackgroundRetryDelay() time.Duration {
	return time.Duration(n.RetryDelay) * time.Minute
}

// URI renders the AMQP connection string.
func (r *RabbitMQConfig) URI() string {
	return "amqp://" + r.User + ":" + r.Password + "@" + r.Host + ":" + strconv.Itoa(r.Port) + "/"
}

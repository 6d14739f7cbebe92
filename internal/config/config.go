// Package config loads serpd settings from defaults, an optional YAML file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/serpd/internal/fingerprint"
	"github.com/FranksOps/serpd/internal/logging"
	"github.com/FranksOps/serpd/internal/storage/open"
	"github.com/FranksOps/serpd/pkg/proxy"
	"github.com/FranksOps/serpd/pkg/useragent"
)

// EnvPrefix namespaces environment variables: search.driver is read from
// SERPD_SEARCH_DRIVER. The port is also read from a bare PORT.
const EnvPrefix = "SERPD"

// Drivers lists the accepted values of search.driver.
var Drivers = []string{"chrome", "http"}

type Config struct {
	Port        int    `mapstructure:"port"`
	StaticDir   string `mapstructure:"static_dir"`
	MetricsPort int    `mapstructure:"metrics_port"`
	// Storage is an optional "scheme:target" audit log, see storage/open.
	Storage string `mapstructure:"storage"`

	Log    logging.Config `mapstructure:"log"`
	Search SearchConfig   `mapstructure:"search"`
	Chrome ChromeConfig   `mapstructure:"chrome"`
	HTTP   HTTPConfig     `mapstructure:"http"`
	Proxy  ProxyConfig    `mapstructure:"proxy"`
}

type SearchConfig struct {
	Driver            string        `mapstructure:"driver"`
	HomeURL           string        `mapstructure:"home_url"`
	ScreenshotPath    string        `mapstructure:"screenshot_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	InputTimeout      time.Duration `mapstructure:"input_timeout"`
	ResultsTimeout    time.Duration `mapstructure:"results_timeout"`
	RulesFile         string        `mapstructure:"rules_file"`
	UserAgentMode     string        `mapstructure:"user_agent_mode"`
	UserAgents        []string      `mapstructure:"user_agents"`
	// HumanDelays disables every interaction pause when false.
	HumanDelays bool  `mapstructure:"human_delays"`
	JitterSeed  int64 `mapstructure:"jitter_seed"`
}

type ChromeConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	Headless      bool          `mapstructure:"headless"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

type HTTPConfig struct {
	Fingerprint string        `mapstructure:"fingerprint"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ProxyConfig struct {
	// File lists one proxy URL per line. Empty means direct connections.
	File         string `mapstructure:"file"`
	proxy.Config `mapstructure:",squash"`
}

// New returns a viper instance holding the defaults and reading the
// environment. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", 3000)
	v.SetDefault("static_dir", "public")
	v.SetDefault("metrics_port", 0)
	v.SetDefault("storage", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("search.driver", "chrome")
	v.SetDefault("search.home_url", "https://www.google.com")
	v.SetDefault("search.screenshot_path", "search-results.png")
	v.SetDefault("search.navigation_timeout", 30*time.Second)
	v.SetDefault("search.input_timeout", 5*time.Second)
	v.SetDefault("search.results_timeout", 10*time.Second)
	v.SetDefault("search.rules_file", "")
	v.SetDefault("search.user_agent_mode", string(useragent.ModeFixed))
	v.SetDefault("search.user_agents", []string{})
	v.SetDefault("search.human_delays", true)
	v.SetDefault("search.jitter_seed", 0)

	v.SetDefault("chrome.exec_path", "")
	v.SetDefault("chrome.headless", true)
	v.SetDefault("chrome.action_timeout", 30*time.Second)

	v.SetDefault("http.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("proxy.file", "")
	v.SetDefault("proxy.max_failures", 3)
	v.SetDefault("proxy.cooldown", 5*time.Minute)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "PORT")

	return v
}

// Load reads the optional config file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics_port %d out of range", c.MetricsPort))
	}
	if c.Storage != "" {
		if _, _, err := open.Parse(c.Storage); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}

	if !validDriver(c.Search.Driver) {
		errs = append(errs, fmt.Errorf("search.driver %q unknown (want one of %s)", c.Search.Driver, strings.Join(Drivers, ", ")))
	}
	if c.Search.HomeURL == "" {
		errs = append(errs, errors.New("search.home_url is required"))
	}
	for name, d := range map[string]time.Duration{
		"search.navigation_timeout": c.Search.NavigationTimeout,
		"search.input_timeout":      c.Search.InputTimeout,
		"search.results_timeout":    c.Search.ResultsTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if _, err := useragent.ParseMode(c.Search.UserAgentMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := fingerprint.ParseProfile(c.HTTP.Fingerprint); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func validDriver(d string) bool {
	for _, known := range Drivers {
		if d == known {
			return true
		}
	}
	return false
}

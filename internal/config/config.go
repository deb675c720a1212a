// Package config loads wakegate settings from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

type ListenConfig struct {
	Address    string   `yaml:"address"`
	Port       int      `yaml:"port"`
	AcceptWait Duration `yaml:"accept_wait"`
}

type BackendConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	SRVLookup   bool     `yaml:"srv_lookup"`
	DialTimeout Duration `yaml:"dial_timeout"`
	BufferSize  int      `yaml:"buffer_size"`
	RelayPoll   Duration `yaml:"relay_poll"`
}

type InstanceConfig struct {
	Provider  string `yaml:"provider"`
	APIToken  string `yaml:"api_token"`
	DropletID int    `yaml:"droplet_id"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

type LifecycleConfig struct {
	IdleTimeout    Duration `yaml:"idle_timeout"`
	StartupTimeout Duration `yaml:"startup_timeout"`
	ReadyTimeout   Duration `yaml:"ready_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
	CheckInterval  Duration `yaml:"check_interval"`
}

type ProbeConfig struct {
	Timeout         Duration `yaml:"timeout"`
	ProtocolVersion int      `yaml:"protocol_version"`
}

type DashboardConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Address           string `yaml:"address"`
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
	ValidateAPI       bool   `yaml:"validate_api"`
	LogLines          int    `yaml:"log_lines"`
}

// Config is the full gateway configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Backend   BackendConfig   `yaml:"backend"`
	Instance  InstanceConfig  `yaml:"instance"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Probe     ProbeConfig     `yaml:"probe"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ListenConfig{
			Address:    "0.0.0.0",
			Port:       25565,
			AcceptWait: Duration(time.Second),
		},
		Backend: BackendConfig{
			DialTimeout: Duration(10 * time.Second),
			BufferSize:  4096,
			RelayPoll:   Duration(time.Second),
		},
		Instance: InstanceConfig{Provider: "digitalocean"},
		Lifecycle: LifecycleConfig{
			IdleTimeout:    Duration(15 * time.Minute),
			StartupTimeout: Duration(8 * time.Minute),
			ReadyTimeout:   Duration(8 * time.Minute),
			PollInterval:   Duration(5 * time.Second),
			CheckInterval:  Duration(time.Minute),
		},
		Probe: ProbeConfig{
			Timeout:         Duration(5 * time.Second),
			ProtocolVersion: 47,
		},
		Dashboard: DashboardConfig{
			Enabled:   true,
			Address:   "0.0.0.0:8080",
			AdminUser: "admin",
			LogLines:  100,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies the process
// environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, env.ToMap(os.Environ()))
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	if cfg.Backend.Port == 0 {
		cfg.Backend.Port = cfg.Listen.Port
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ListenAddr returns the client listener host:port.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Address, strconv.Itoa(c.Listen.Port))
}

// BackendAddr returns the backend host:port before any SRV lookup.
func (c Config) BackendAddr() string {
	return net.JoinHostPort(c.Backend.Host, strconv.Itoa(c.Backend.Port))
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is required"))
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend.port %d out of range", c.Backend.Port))
	}
	if c.Backend.BufferSize <= 0 {
		errs = append(errs, errors.New("backend.buffer_size must be positive"))
	}
	switch strings.ToLower(c.Instance.Provider) {
	case "digitalocean":
		if c.Instance.APIToken == "" {
			errs = append(errs, errors.New("instance.api_token is required for digitalocean"))
		}
		if c.Instance.DropletID <= 0 {
			errs = append(errs, errors.New("instance.droplet_id is required for digitalocean"))
		}
	case "static":
	default:
		errs = append(errs, fmt.Errorf("instance.provider %q is not supported", c.Instance.Provider))
	}
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"lifecycle.idle_timeout", c.Lifecycle.IdleTimeout},
		{"lifecycle.startup_timeout", c.Lifecycle.StartupTimeout},
		{"lifecycle.poll_interval", c.Lifecycle.PollInterval},
		{"lifecycle.check_interval", c.Lifecycle.CheckInterval},
		{"probe.timeout", c.Probe.Timeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Dashboard.Enabled && c.Dashboard.Address == "" {
		errs = append(errs, errors.New("dashboard.address is required when the dashboard is enabled"))
	}
	if c.Dashboard.AdminPasswordHash != "" && c.Dashboard.AdminUser == "" {
		errs = append(errs, errors.New("dashboard.admin_user is required with admin_password_hash"))
	}
	return errors.Join(errs...)
}

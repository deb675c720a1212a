package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds values that replace file settings when present. Unset
// variables leave the pointer nil. WAKEGATE_* names win over legacy names.
type envOverrides struct {
	ListenAddress    *string        `env:"WAKEGATE_LISTEN_ADDRESS"`
	ListenPort       *int           `env:"WAKEGATE_LISTEN_PORT"`
	LegacyPort       *int           `env:"PORT"`
	LegacyListenPort *int           `env:"LISTEN_PORT"`
	AcceptWait       *time.Duration `env:"WAKEGATE_ACCEPT_WAIT"`

	BackendHost       *string        `env:"WAKEGATE_BACKEND_HOST"`
	LegacyBackendHost *string        `env:"MC_SERVER_IP"`
	BackendPort       *int           `env:"WAKEGATE_BACKEND_PORT"`
	SRVLookup         *bool          `env:"WAKEGATE_BACKEND_SRV_LOOKUP"`
	DialTimeout       *time.Duration `env:"WAKEGATE_DIAL_TIMEOUT"`

	Provider        *string `env:"WAKEGATE_INSTANCE_PROVIDER"`
	APIToken        *string `env:"WAKEGATE_API_TOKEN"`
	LegacyAPIToken  *string `env:"DO_API_TOKEN"`
	DropletID       *int    `env:"WAKEGATE_DROPLET_ID"`
	LegacyDropletID *int    `env:"DROPLET_ID"`

	IdleTimeout          *time.Duration `env:"WAKEGATE_IDLE_TIMEOUT"`
	LegacyIdleMinutes    *int           `env:"INACTIVITY_TIMEOUT"`
	StartupTimeout       *time.Duration `env:"WAKEGATE_STARTUP_TIMEOUT"`
	ReadyTimeout         *time.Duration `env:"WAKEGATE_READY_TIMEOUT"`
	PollInterval         *time.Duration `env:"WAKEGATE_POLL_INTERVAL"`
	CheckInterval        *time.Duration `env:"WAKEGATE_CHECK_INTERVAL"`
	ProbeTimeout         *time.Duration `env:"WAKEGATE_PROBE_TIMEOUT"`
	ProbeProtocolVersion *int           `env:"WAKEGATE_PROBE_PROTOCOL_VERSION"`

	DashboardEnabled  *bool   `env:"WAKEGATE_DASHBOARD_ENABLED"`
	DashboardAddress  *string `env:"WAKEGATE_DASHBOARD_ADDRESS"`
	AdminUser         *string `env:"WAKEGATE_ADMIN_USER"`
	AdminPasswordHash *string `env:"WAKEGATE_ADMIN_PASSWORD_HASH"`
	ValidateAPI       *bool   `env:"WAKEGATE_VALIDATE_API"`
}

func applyEnv(cfg *Config, environ map[string]string) error {
	if environ == nil {
		environ = map[string]string{}
	}
	var raw envOverrides
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Listen.Address, raw.ListenAddress)
	setInt(&cfg.Listen.Port, first(raw.ListenPort, raw.LegacyPort, raw.LegacyListenPort))
	setDuration(&cfg.Listen.AcceptWait, raw.AcceptWait)

	setString(&cfg.Backend.Host, first(raw.BackendHost, raw.LegacyBackendHost))
	setInt(&cfg.Backend.Port, raw.BackendPort)
	if raw.SRVLookup != nil {
		cfg.Backend.SRVLookup = *raw.SRVLookup
	}
	setDuration(&cfg.Backend.DialTimeout, raw.DialTimeout)

	setString(&cfg.Instance.Provider, raw.Provider)
	setString(&cfg.Instance.APIToken, first(raw.APIToken, raw.LegacyAPIToken))
	setInt(&cfg.Instance.DropletID, first(raw.DropletID, raw.LegacyDropletID))

	if raw.IdleTimeout == nil && raw.LegacyIdleMinutes != nil {
		d := time.Duration(*raw.LegacyIdleMinutes) * time.Minute
		raw.IdleTimeout = &d
	}
	setDuration(&cfg.Lifecycle.IdleTimeout, raw.IdleTimeout)
	setDuration(&cfg.Lifecycle.StartupTimeout, raw.StartupTimeout)
	setDuration(&cfg.Lifecycle.ReadyTimeout, raw.ReadyTimeout)
	setDuration(&cfg.Lifecycle.PollInterval, raw.PollInterval)
	setDuration(&cfg.Lifecycle.CheckInterval, raw.CheckInterval)
	setDuration(&cfg.Probe.Timeout, raw.ProbeTimeout)
	setInt(&cfg.Probe.ProtocolVersion, raw.ProbeProtocolVersion)

	if raw.DashboardEnabled != nil {
		cfg.Dashboard.Enabled = *raw.DashboardEnabled
	}
	setString(&cfg.Dashboard.Address, raw.DashboardAddress)
	setString(&cfg.Dashboard.AdminUser, raw.AdminUser)
	setString(&cfg.Dashboard.AdminPasswordHash, raw.AdminPasswordHash)
	if raw.ValidateAPI != nil {
		cfg.Dashboard.ValidateAPI = *raw.ValidateAPI
	}
	return nil
}

func first[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *Duration, v *time.Duration) {
	if v != nil {
		*dst = Duration(*v)
	}
}

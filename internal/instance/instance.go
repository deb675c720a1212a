// Package instance controls the machine that hosts the game server.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names accepted in configuration.
const (
	ProviderDigitalOcean = "digitalocean"
	ProviderStatic       = "static"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("instance: unknown provider")

// Controller powers the backend instance on and off.
type Controller interface {
	IsRunning(ctx context.Context) (bool, error)
	PowerOn(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// TransientError wraps a provider call that failed but may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("instance %s: %v", e.Op, e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Options selects and configures a provider.
type Options struct {
	Provider  string
	APIToken  string
	DropletID int
	// BaseURL overrides the provider API endpoint.
	BaseURL string
}

// New returns the controller for opts.Provider.
func New(opts Options) (Controller, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderDigitalOcean, "":
		do, err := NewDigitalOcean(opts)
		if err != nil {
			return nil, err
		}
		return do, nil
	case ProviderStatic:
		return Static{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

// Static is an always-on backend: it reports running and ignores power calls.
type Static struct{}

func (Static) IsRunning(context.Context) (bool, error) { return true, nil }

func (Static) PowerOn(context.Context) error { return nil }

func (Static) Shutdown(context.Context) error { return nil }

package instance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"
)

const (
	dropletStatusActive = "active"
	dropletStatusOff    = "off"
)

var (
	// ErrMissingToken is returned when no API token is configured.
	ErrMissingToken = errors.New("instance: digitalocean api token required")
	// ErrMissingDroplet is returned when no droplet id is configured.
	ErrMissingDroplet = errors.New("instance: droplet id required")
)

// DigitalOcean drives a single droplet through the DigitalOcean API.
type DigitalOcean struct {
	client    *godo.Client
	dropletID int
}

// NewDigitalOcean authenticates with a static bearer token.
func NewDigitalOcean(opts Options) (*DigitalOcean, error) {
	if opts.APIToken == "" {
		return nil, ErrMissingToken
	}
	if opts.DropletID <= 0 {
		return nil, ErrMissingDroplet
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIToken})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return newDigitalOceanWithClient(httpClient, opts.BaseURL, opts.DropletID)
}

func newDigitalOceanWithClient(httpClient *http.Client, baseURL string, dropletID int) (*DigitalOcean, error) {
	var clientOpts []godo.ClientOpt
	clientOpts = append(clientOpts, godo.SetUserAgent("wakegate"))
	if baseURL != "" {
		clientOpts = append(clientOpts, godo.SetBaseURL(baseURL))
	}
	client, err := godo.New(httpClient, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("instance: digitalocean client: %w", err)
	}
	return &DigitalOcean{client: client, dropletID: dropletID}, nil
}

func (d *DigitalOcean) droplet(ctx context.Context) (*godo.Droplet, error) {
	droplet, _, err := d.client.Droplets.Get(ctx, d.dropletID)
	if err != nil {
		return nil, classify("status", err)
	}
	return droplet, nil
}

// IsRunning reports whether the droplet status is active.
func (d *DigitalOcean) IsRunning(ctx context.Context) (bool, error) {
	droplet, err := d.droplet(ctx)
	if err != nil {
		return false, err
	}
	log.Printf("DEBUG: instance: droplet %d status: %s", d.dropletID, droplet.Status)
	return droplet.Status == dropletStatusActive, nil
}

// PowerOn requests a power-on unless the droplet is already active.
func (d *DigitalOcean) PowerOn(ctx context.Context) error {
	droplet, err := d.droplet(ctx)
	if err != nil {
		return err
	}
	if droplet.Status == dropletStatusActive {
		log.Printf("INFO: instance: droplet %s already running", droplet.Name)
		return nil
	}
	log.Printf("INFO: instance: starting droplet %s", droplet.Name)
	if _, _, err := d.client.DropletActions.PowerOn(ctx, d.dropletID); err != nil {
		return classify("power on", err)
	}
	return nil
}

// Shutdown requests a graceful shutdown unless the droplet is already off.
func (d *DigitalOcean) Shutdown(ctx context.Context) error {
	droplet, err := d.droplet(ctx)
	if err != nil {
		return err
	}
	if droplet.Status == dropletStatusOff {
		log.Printf("INFO: instance: droplet %s already stopped", droplet.Name)
		return nil
	}
	log.Printf("INFO: instance: stopping droplet %s", droplet.Name)
	if _, _, err := d.client.DropletActions.Shutdown(ctx, d.dropletID); err != nil {
		return classify("shutdown", err)
	}
	return nil
}

// classify marks rate limits, server errors and transport failures as
// transient. Client errors such as a bad token are returned as-is.
func classify(op string, err error) error {
	var apiErr *godo.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return &TransientError{Op: op, Err: err}
		}
		return fmt.Errorf("instance %s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

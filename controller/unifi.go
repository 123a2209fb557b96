// Package controller talks to the UniFi Network controller.
package controller

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/paultyng/go-unifi/unifi"
)

type Config struct {
	URL                string
	Username           string
	Password           string
	Site               string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client blocks and unblocks stations through go-unifi. It logs in lazily
// and once more when a command fails, since the controller drops idle
// sessions without notice.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	api      *unifi.Client
	loggedIn bool
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	if cfg.Site == "" {
		cfg.Site = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} // #nosec G402 -- self-signed controller certs are the norm

	api := &unifi.Client{}
	if err := api.SetHTTPClient(&http.Client{Timeout: cfg.Timeout, Jar: jar, Transport: transport}); err != nil {
		return nil, fmt.Errorf("configuring controller client: %w", err)
	}
	if err := api.SetBaseURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("parsing controller url: %w", err)
	}

	return &Client{cfg: cfg, logger: logger, api: api}, nil
}

// Block disconnects the client with the given MAC and keeps it off the
// network.
func (c *Client) Block(ctx context.Context, mac string) error {
	return c.stationCommand(ctx, "block", mac, c.api.BlockUserByMAC)
}

// Unblock lets the client with the given MAC back on the network.
func (c *Client) Unblock(ctx context.Context, mac string) error {
	return c.stationCommand(ctx, "unblock", mac, c.api.UnblockUserByMAC)
}

func (c *Client) stationCommand(ctx context.Context, action, mac string, cmd func(ctx context.Context, site, mac string) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mac = strings.ToLower(mac)
	if err := c.loginLocked(ctx); err != nil {
		return err
	}
	err := cmd(ctx, c.cfg.Site, mac)
	if err == nil {
		return nil
	}

	c.logger.Info("controller command failed, logging in again", "action", action, "mac", mac, "error", err)
	c.loggedIn = false
	if err := c.loginLocked(ctx); err != nil {
		return err
	}
	if err := cmd(ctx, c.cfg.Site, mac); err != nil {
		return fmt.Errorf("%s %s: %w", action, mac, err)
	}
	return nil
}

func (c *Client) loginLocked(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}
	if err := c.api.Login(ctx, c.cfg.Username, c.cfg.Password); err != nil {
		return fmt.Errorf("logging in to controller: %w", err)
	}
	c.loggedIn = true
	c.logger.Debug("logged in to controller", "url", c.cfg.URL)
	return nil
}

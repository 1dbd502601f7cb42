// Package amqpadmin drives the RabbitMQ management HTTP API: per-AVM broker
// users and their permissions. Queue and exchange topology is handled over
// AMQP by the broker package; only user management needs the REST API.
package amqpadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/logging"
)

// RestError carries the HTTP status and server-side reason of a failed
// management call.
type RestError struct {
	Status int
	Reason string
}

func (e *RestError) Error() string {
	return fmt.Sprintf("%d (%s): %s", e.Status, http.StatusText(e.Status), e.Reason)
}

// IsNotFound reports whether the error is a 404 from the management API.
func (e *RestError) IsNotFound() bool {
	return e.Status == http.StatusNotFound
}

// Client talks to one RabbitMQ management endpoint.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// New builds a client for the configured broker host. The management API
// listens on its standard port 15672.
func New(cfg config.AMQPConfig) *Client {
	return &Client{
		baseURL:  fmt.Sprintf("http://%s:15672/api", cfg.Hostname),
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		http:     &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method string, path []string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL
	for _, p := range path {
		u += "/" + url.PathEscape(p)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		logging.Op().Warn("unable to authenticate with the management API")
	}

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		var errBody struct {
			Reason string `json:"reason"`
		}
		text, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(text, &errBody)
		if errBody.Reason == "" {
			errBody.Reason = string(text)
		}
		return &RestError{Status: resp.StatusCode, Reason: errBody.Reason}
	}
	return nil
}

// CreateUser provisions a broker user with no management tags.
func (c *Client) CreateUser(ctx context.Context, username, password string) error {
	logging.Op().Debug("creating rabbitmq user", "username", username)
	return c.do(ctx, http.MethodPut, []string{"users", username}, map[string]string{
		"password": password,
		"tags":     "",
	})
}

// DeleteUser removes a broker user.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodDelete, []string{"users", username}, nil)
}

// SetUserPermissions grants the AVM user read-only access to its own event
// queues and nothing else.
func (c *Client) SetUserPermissions(ctx context.Context, vhost, username, avmID string) error {
	return c.do(ctx, http.MethodPut, []string{"permissions", vhost, username}, map[string]string{
		"configure": "",
		"write":     "",
		"read":      fmt.Sprintf("android-events.%s.*", avmID),
	})
}

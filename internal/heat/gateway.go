package heat

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/logging"
)

// ServiceHeat is the catalog name of the Heat API endpoint.
const ServiceHeat = "heat-api"

// Gateway wraps OpenStack API calls, authenticating with Keystone before
// each request. Tokens are short-lived and workers run for days; fetching a
// fresh token per call avoids expiry handling entirely.
type Gateway struct {
	authURL  string
	username string
	password string
	client   *http.Client
}

// NewGateway builds a gateway from the openstack config section.
func NewGateway(cfg config.OpenStackConfig) (*Gateway, error) {
	transport := &http.Transport{}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if cfg.OSCACert != "" {
		pem, err := os.ReadFile(cfg.OSCACert)
		if err != nil {
			return nil, fmt.Errorf("read os_cacert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("os_cacert %s contains no certificates", cfg.OSCACert)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &Gateway{
		authURL:  strings.TrimRight(cfg.OSAuthURL, "/"),
		username: cfg.OSUsername,
		password: cfg.OSPassword,
		client:   &http.Client{Transport: transport},
	}, nil
}

type session struct {
	token     string
	endpoints map[string]string
}

func (g *Gateway) authPayload() map[string]any {
	return map[string]any{
		"auth": map[string]any{
			"identity": map[string]any{
				"methods": []string{"password"},
				"password": map[string]any{
					"user": map[string]any{
						"domain":   map[string]any{"name": "Default"},
						"name":     g.username,
						"password": g.password,
					},
				},
			},
		},
	}
}

// authenticate obtains a token and the endpoint catalog.
func (g *Gateway) authenticate(ctx context.Context) (*session, error) {
	body, err := json.Marshal(g.authPayload())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.authURL+"/auth/tokens", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keystone auth: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		logging.Op().Error("keystone auth failed",
			"status", resp.StatusCode, "body", string(text))
		return nil, fmt.Errorf("keystone auth: HTTP %d", resp.StatusCode)
	}

	token := resp.Header.Get("X-Subject-Token")
	if token == "" {
		return nil, fmt.Errorf("keystone auth: no subject token in response")
	}

	var payload struct {
		Token struct {
			Catalog []struct {
				Name      string `json:"name"`
				Endpoints []struct {
					Interface string `json:"interface"`
					URL       string `json:"url"`
				} `json:"endpoints"`
			} `json:"catalog"`
		} `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("keystone auth: decode catalog: %w", err)
	}

	endpoints := map[string]string{}
	for _, service := range payload.Token.Catalog {
		for _, ep := range service.Endpoints {
			if ep.Interface == "public" || ep.Interface == "" {
				endpoints[service.Name] = strings.TrimRight(ep.URL, "/")
				break
			}
		}
	}

	return &session{token: token, endpoints: endpoints}, nil
}

// Do issues one authenticated request against a catalog service. The
// returned response body must be closed by the caller.
func (g *Gateway) Do(ctx context.Context, service, method string, path []string, body []byte) (*http.Response, error) {
	sess, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	base, ok := sess.endpoints[service]
	if !ok {
		return nil, fmt.Errorf("service %s not in catalog", service)
	}

	url := base + "/" + strings.Join(path, "/")
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Auth-Token", sess.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}

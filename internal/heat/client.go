// Package heat drives OpenStack orchestration: one Heat stack per AVM.
// Error classification from Heat's free-text messages is confined to this
// package.
package heat

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/kyaraben/kyaraben/internal/logging"
)

//go:embed templates/*.yaml
var templateFS embed.FS

var templateNameRE = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

// Client performs stack operations through the gateway.
type Client struct {
	gw *Gateway
}

// NewClient wraps a gateway.
func NewClient(gw *Gateway) *Client {
	return &Client{gw: gw}
}

// StackCreate submits a new stack and returns its ID. The template name
// refers to an embedded HOT template.
func (c *Client) StackCreate(ctx context.Context, stackName string, params map[string]string, template string) (string, error) {
	if !templateNameRE.MatchString(template) {
		return "", fmt.Errorf("invalid template name %q", template)
	}
	tpl, err := templateFS.ReadFile("templates/" + template)
	if err != nil {
		return "", fmt.Errorf("load template %s: %w", template, err)
	}

	body, err := json.Marshal(map[string]any{
		"stack_name": stackName,
		"template":   string(tpl),
		"parameters": params,
	})
	if err != nil {
		return "", err
	}

	logging.Op().Info("creating stack", "stack_name", stackName)

	resp, err := c.gw.Do(ctx, ServiceHeat, http.MethodPost, []string{"stacks"}, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var payload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		text, _ := io.ReadAll(resp.Body)
		logging.Op().Error("stack creation error",
			"stack_name", stackName, "status", resp.StatusCode, "body", string(text))
		_ = json.Unmarshal(text, &payload)
		return "", classifyCreateError(resp.StatusCode, payload.Error.Message)
	}

	var payload struct {
		Stack struct {
			ID string `json:"id"`
		} `json:"stack"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode stack create response: %w", err)
	}
	return payload.Stack.ID, nil
}

// StackOutput returns the output parameters of an existing stack, or nil
// when the stack has not produced outputs yet.
func (c *Client) StackOutput(ctx context.Context, stackName, stackID string) (map[string]string, error) {
	resp, err := c.gw.Do(ctx, ServiceHeat, http.MethodGet,
		[]string{"stacks", stackName, stackID}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return nil, &OSHeatError{Status: resp.StatusCode, Body: string(text)}
	}

	var payload struct {
		Stack struct {
			Outputs []struct {
				OutputKey   string          `json:"output_key"`
				OutputValue json.RawMessage `json:"output_value"`
			} `json:"outputs"`
		} `json:"stack"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode stack output: %w", err)
	}

	if payload.Stack.Outputs == nil {
		return nil, nil
	}

	out := map[string]string{}
	for _, o := range payload.Stack.Outputs {
		var value string
		if err := json.Unmarshal(o.OutputValue, &value); err != nil {
			// null or non-string output reads as empty
			value = ""
		}
		out[o.OutputKey] = value
	}
	logging.Op().Debug("got stack output", "stack_name", stackName, "outputs", out)
	return out, nil
}

// LookupStackID resolves a stack name to its ID.
func (c *Client) LookupStackID(ctx context.Context, stackName string) (string, error) {
	resp, err := c.gw.Do(ctx, ServiceHeat, http.MethodGet, []string{"stacks", stackName}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &AVMNotFoundError{StackName: stackName}
	}
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		logging.Op().Warn("error from heat", "status", resp.StatusCode, "body", string(text))
		return "", &OSHeatError{Status: resp.StatusCode, Body: string(text)}
	}

	var payload struct {
		Stack struct {
			ID string `json:"id"`
		} `json:"stack"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode stack lookup: %w", err)
	}
	return payload.Stack.ID, nil
}

// StackDelete removes a stack by name, resolving the ID first.
func (c *Client) StackDelete(ctx context.Context, stackName string) error {
	logging.Op().Info("removing stack", "stack_name", stackName)

	stackID, err := c.LookupStackID(ctx, stackName)
	if err != nil {
		return err
	}

	resp, err := c.gw.Do(ctx, ServiceHeat, http.MethodDelete,
		[]string{"stacks", stackName, stackID}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return &AVMNotFoundError{StackName: stackName}
	default:
		text, _ := io.ReadAll(resp.Body)
		logging.Op().Warn("error from heat", "status", resp.StatusCode, "body", string(text))
		return &OSHeatError{Status: resp.StatusCode, Body: string(text)}
	}
}

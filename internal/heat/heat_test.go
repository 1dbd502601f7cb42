package heat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kyaraben/kyaraben/internal/config"
)

// fakeOpenStack serves both the Keystone auth endpoint and a scripted Heat
// API from one listener.
func fakeOpenStack(t *testing.T, heatHandler http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/v3/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("X-Subject-Token", "tok-123")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token": {"catalog": [
			{"name": "heat-api", "endpoints": [
				{"interface": "public", "url": "%s/heat"}
			]}
		]}}`, srv.URL)
	})
	mux.HandleFunc("/heat/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Auth-Token"); got != "tok-123" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		heatHandler(w, r)
	})

	gw, err := NewGateway(config.OpenStackConfig{
		OSAuthURL:  srv.URL + "/v3",
		OSUsername: "kyaraben",
		OSPassword: "secret",
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return NewClient(gw)
}

func TestStackCreate(t *testing.T) {
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/heat/stacks" {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		var req struct {
			StackName  string            `json:"stack_name"`
			Template   string            `json:"template"`
			Parameters map[string]string `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.StackName != "stack-1" || req.Template == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Parameters["system_image"] != "sys-7" {
			http.Error(w, "missing parameter", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"stack": {"id": "id-42"}}`)
	})

	id, err := client.StackCreate(context.Background(), "stack-1",
		map[string]string{"system_image": "sys-7", "data_image": "data-7"},
		"android.yaml")
	if err != nil {
		t.Fatalf("StackCreate: %v", err)
	}
	if id != "id-42" {
		t.Errorf("stack id = %q", id)
	}
}

func TestStackCreateImageNotFound(t *testing.T) {
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"type": "StackValidationFailed",
			"message": "Property error: : resources.avm_instance.properties.image: : The Image ghost could not be found (HTTP 404)"}}`)
	})

	_, err := client.StackCreate(context.Background(), "stack-1", nil, "android.yaml")
	var imgErr *AVMImageNotFoundError
	if !errors.As(err, &imgErr) {
		t.Fatalf("error = %v, want AVMImageNotFoundError", err)
	}
	if imgErr.Image != "ghost" {
		t.Errorf("image = %q, want ghost", imgErr.Image)
	}
}

func TestStackCreateGenericFailure(t *testing.T) {
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "malformed template"}}`)
	})

	_, err := client.StackCreate(context.Background(), "stack-1", nil, "android.yaml")
	var createErr *AVMCreationError
	if !errors.As(err, &createErr) {
		t.Fatalf("error = %v, want AVMCreationError", err)
	}
}

func TestStackCreateRejectsBadTemplateName(t *testing.T) {
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("heat must not be called for an invalid template name")
	})

	if _, err := client.StackCreate(context.Background(), "s", nil, "../etc/passwd"); err == nil {
		t.Error("expected error for path-traversal template name")
	}
}

func TestStackOutput(t *testing.T) {
	outputs := `null`
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/heat/stacks/stack-1/id-42" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"stack": {"outputs": %s}}`, outputs)
	})

	// Outputs not produced yet.
	out, err := client.StackOutput(context.Background(), "stack-1", "id-42")
	if err != nil {
		t.Fatalf("StackOutput: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil outputs, got %v", out)
	}

	outputs = `[{"output_key": "instance_ip", "output_value": "10.0.0.5"}]`
	out, err = client.StackOutput(context.Background(), "stack-1", "id-42")
	if err != nil {
		t.Fatalf("StackOutput: %v", err)
	}
	if out["instance_ip"] != "10.0.0.5" {
		t.Errorf("instance_ip = %q", out["instance_ip"])
	}
}

func TestStackDelete(t *testing.T) {
	deleted := false
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/heat/stacks/stack-1":
			fmt.Fprint(w, `{"stack": {"id": "id-42"}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/heat/stacks/stack-1/id-42":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	})

	if err := client.StackDelete(context.Background(), "stack-1"); err != nil {
		t.Fatalf("StackDelete: %v", err)
	}
	if !deleted {
		t.Error("DELETE was not issued")
	}
}

func TestStackDeleteNotFound(t *testing.T) {
	client := fakeOpenStack(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	err := client.StackDelete(context.Background(), "stack-1")
	var nfErr *AVMNotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("error = %v, want AVMNotFoundError", err)
	}
}

func TestClassifyCreateError(t *testing.T) {
	tests := []struct {
		message   string
		wantImage string
	}{
		{"The Image ghost could not be found (HTTP 404)", "ghost"},
		{"The Image foo-bar could not be found", "foo-bar"},
	}
	for _, tt := range tests {
		err := classifyCreateError(400, tt.message)
		var imgErr *AVMImageNotFoundError
		if !errors.As(err, &imgErr) {
			t.Fatalf("classify(%q) = %v", tt.message, err)
		}
		if imgErr.Image != tt.wantImage {
			t.Errorf("image = %q, want %q", imgErr.Image, tt.wantImage)
		}
	}

	var createErr *AVMCreationError
	if err := classifyCreateError(400, "malformed template"); !errors.As(err, &createErr) {
		t.Errorf("generic failure = %v, want AVMCreationError", err)
	}
}

package amqpadmin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kyaraben/kyaraben/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.AMQPConfig{
		Hostname:      "ignored",
		AdminUsername: "admin",
		AdminPassword: "adminpw",
	})
	c.baseURL = srv.URL + "/api"
	return c
}

func TestCreateUser(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/users/avm-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "adminpw" {
			t.Error("missing admin credentials")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["password"] != "pw" || body["tags"] != "" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.CreateUser(context.Background(), "avm-1", "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func TestSetUserPermissions(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// "/" vhost must be path-escaped
		if r.URL.EscapedPath() != "/api/permissions/%2F/avm-1" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["read"] != "android-events.avm-1.*" {
			t.Errorf("read permission = %q", body["read"])
		}
		if body["configure"] != "" || body["write"] != "" {
			t.Error("configure/write must be empty")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SetUserPermissions(context.Background(), "/", "avm-1", "avm-1"); err != nil {
		t.Fatalf("SetUserPermissions: %v", err)
	}
}

func TestDeleteUserNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Object Not Found", "reason": "Not Found"}`))
	})

	err := client.DeleteUser(context.Background(), "gone")
	var restErr *RestError
	if !errors.As(err, &restErr) {
		t.Fatalf("error = %v, want RestError", err)
	}
	if !restErr.IsNotFound() {
		t.Errorf("IsNotFound = false, status %d", restErr.Status)
	}
	if restErr.Reason != "Not Found" {
		t.Errorf("reason = %q", restErr.Reason)
	}
}

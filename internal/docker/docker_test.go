package docker

import (
	"testing"

	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/domain"
)

func TestContainerNames(t *testing.T) {
	if got := AdbContainer("abc123"); got != "abc123_adb" {
		t.Errorf("AdbContainer = %q", got)
	}
	if got := PrjContainer("p1"); got != "p1_prjdata" {
		t.Errorf("PrjContainer = %q", got)
	}
}

func TestClientEnv(t *testing.T) {
	c := New(config.DockerConfig{Host: "tcp://10.0.0.1:2376", TLSVerify: true}, "/tmp")
	env := c.env(map[string]string{"AIC_PROJECT_PREFIX": "p_"})

	want := map[string]bool{
		"DOCKER_HOST=tcp://10.0.0.1:2376": false,
		"DOCKER_TLS_VERIFY=1":             false,
		"AIC_PROJECT_PREFIX=p_":           false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("missing env entry %q", kv)
		}
	}

	// TLS verify must be absent entirely when disabled; an empty value
	// still enables it for the docker CLI.
	c = New(config.DockerConfig{Host: "unix:///var/run/docker.sock"}, "/tmp")
	for _, kv := range c.env(nil) {
		if kv == "DOCKER_TLS_VERIFY=" || kv == "DOCKER_TLS_VERIFY=0" {
			t.Errorf("unexpected env entry %q", kv)
		}
	}
}

func TestPlayerVars(t *testing.T) {
	hc := domain.DefaultHWConfig()
	hc.Width = 480
	hc.Height = 854

	vars := playerVars(PlayerEnv{
		ProjectID:      "proj1",
		AVMID:          "avm1",
		InstanceIP:     "10.0.0.5",
		HWConfig:       hc,
		AMQPHost:       "mq.example.com",
		AMQPUser:       "avm1",
		AMQPPassword:   "secret",
		AndroidVersion: "7",
		VNCSecret:      "deadbeef",
	})

	tests := map[string]string{
		"AIC_AVM_PREFIX":             "avm1_",
		"AIC_PROJECT_PREFIX":         "proj1_",
		"AIC_PLAYER_VM_HOST":         "10.0.0.5",
		"AIC_PLAYER_WIDTH":           "480",
		"AIC_PLAYER_HEIGHT":          "854",
		"AIC_PLAYER_MAX_DIMENSION":   "854",
		"AIC_PLAYER_ENABLE_SENSORS":  "1",
		"AIC_PLAYER_ENABLE_NFC":      "0",
		"AIC_PLAYER_ANDROID_VERSION": "7",
	}
	for key, want := range tests {
		if got := vars[key]; got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Quota.VMLiveMax != 3 {
		t.Errorf("vm_live_max = %d, want 3", cfg.Quota.VMLiveMax)
	}
	if cfg.Quota.VMAsyncMax != 1 {
		t.Errorf("vm_async_max = %d, want 1", cfg.Quota.VMAsyncMax)
	}
	if cfg.Worker.HeatPoll() != 5*time.Second {
		t.Errorf("heat_poll_interval = %v, want 5s", cfg.Worker.HeatPoll())
	}
	if cfg.Retry.FailTimeout != 86400 {
		t.Errorf("fail_timeout = %d, want 86400", cfg.Retry.FailTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kyaraben.yml")
	data := []byte(`
server:
  listen_address: 0.0.0.0
  listen_port: 9000
db:
  dsn: postgres://kyaraben@localhost/kyaraben
retry:
  delay_max: 60
openstack:
  os_auth_url: https://keystone.example:5000/v3
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0" {
		t.Errorf("listen_address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ListenPort != 9000 {
		t.Errorf("listen_port = %d", cfg.Server.ListenPort)
	}
	if cfg.DB.DSN != "postgres://kyaraben@localhost/kyaraben" {
		t.Errorf("dsn = %q", cfg.DB.DSN)
	}
	if cfg.Retry.DelayMax != 60 {
		t.Errorf("delay_max = %d, want 60", cfg.Retry.DelayMax)
	}
	// untouched keys keep their defaults
	if cfg.Retry.DelayMin != 1 {
		t.Errorf("delay_min = %d, want default 1", cfg.Retry.DelayMin)
	}
	if cfg.OpenStack.Template != "android.yaml" {
		t.Errorf("template = %q, want default", cfg.OpenStack.Template)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KYARABEN_AMQP_HOSTNAME", "rabbit.internal")
	t.Setenv("KYARABEN_QUOTA_VM_ASYNC_MAX", "4")
	t.Setenv("KYARABEN_OPENSTACK_INSECURE", "true")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.AMQP.Hostname != "rabbit.internal" {
		t.Errorf("amqp hostname = %q", cfg.AMQP.Hostname)
	}
	if cfg.Quota.VMAsyncMax != 4 {
		t.Errorf("vm_async_max = %d, want 4", cfg.Quota.VMAsyncMax)
	}
	if !cfg.OpenStack.Insecure {
		t.Error("insecure should be true")
	}
}

func TestPathTemplates(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.APKPath("cafe01"); got != "/data/project/apk/cafe01.apk" {
		t.Errorf("APKPath = %q", got)
	}
	if got := cfg.CameraPath("cafe02"); got != "/data/project/camera/cafe02" {
		t.Errorf("CameraPath = %q", got)
	}
}

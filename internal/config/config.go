// Package config loads the flat, namespaced configuration shared by the
// server, the worker and the retry collector. Values come from a YAML file,
// then KYARABEN_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP API listen settings.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
}

// AMQPConfig holds broker connection and management API credentials.
type AMQPConfig struct {
	Hostname      string `yaml:"hostname"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
}

// OrchestrationConfig holds orchestration-level settings.
type OrchestrationConfig struct {
	NoVNCHost   string `yaml:"novnc_host"`
	StackPrefix string `yaml:"stackprefix"`
}

// OpenStackConfig holds the Heat/Keystone settings.
type OpenStackConfig struct {
	OSAuthURL    string `yaml:"os_auth_url"`
	OSUsername   string `yaml:"os_username"`
	OSPassword   string `yaml:"os_password"`
	OSTenantName string `yaml:"os_tenant_name"`
	FloatingNet  string `yaml:"floating_net"`
	Template     string `yaml:"template"`
	Insecure     bool   `yaml:"insecure"`
	OSCACert     string `yaml:"os_cacert"`
}

// DBConfig holds the Postgres settings.
type DBConfig struct {
	DSN string `yaml:"dsn"`
}

// QuotaConfig limits per-user VM consumption.
type QuotaConfig struct {
	VMLiveMax  int `yaml:"vm_live_max"`
	VMAsyncMax int `yaml:"vm_async_max"`
}

// WorkerConfig holds task worker settings. Intervals are in seconds, the
// unit the deployment environment has always used for these knobs.
type WorkerConfig struct {
	HeatPollInterval int `yaml:"heat_poll_interval"`
}

// RetryConfig governs dead-letter reinjection. All values in seconds.
type RetryConfig struct {
	DelayMin    int `yaml:"delay_min"`
	DelayMax    int `yaml:"delay_max"`
	FailTimeout int `yaml:"fail_timeout"`
}

// HeatPoll returns the poll interval as a duration.
func (w WorkerConfig) HeatPoll() time.Duration {
	return time.Duration(w.HeatPollInterval) * time.Second
}

// DockerConfig points the CLI wrappers at the container runtime and at the
// directory holding the compose templates.
type DockerConfig struct {
	Host       string `yaml:"host"`
	TLSVerify  bool   `yaml:"tls_verify"`
	ComposeDir string `yaml:"compose_dir"`
}

// MediaConfig holds scratch-space settings.
type MediaConfig struct {
	Tempdir string `yaml:"tempdir"`
}

// PrjdataConfig holds the path templates inside the project data container.
type PrjdataConfig struct {
	APKPath    string `yaml:"apk_path"`
	CameraPath string `yaml:"camera_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"jsonformat"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	AMQP          AMQPConfig          `yaml:"amqp"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	OpenStack     OpenStackConfig     `yaml:"openstack"`
	DB            DBConfig            `yaml:"db"`
	Quota         QuotaConfig         `yaml:"quota"`
	Worker        WorkerConfig        `yaml:"worker"`
	Retry         RetryConfig         `yaml:"retry"`
	Docker        DockerConfig        `yaml:"docker"`
	Media         MediaConfig         `yaml:"media"`
	Prjdata       PrjdataConfig       `yaml:"prjdata"`
	Log           LogConfig           `yaml:"log"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1",
			ListenPort:    8084,
		},
		AMQP: AMQPConfig{
			Hostname:      "127.0.0.1",
			AdminUsername: "guest",
			AdminPassword: "guest",
		},
		OpenStack: OpenStackConfig{
			FloatingNet: "net04_ext",
			Template:    "android.yaml",
		},
		Quota: QuotaConfig{
			VMLiveMax:  3,
			VMAsyncMax: 1,
		},
		Worker: WorkerConfig{
			HeatPollInterval: 5,
		},
		Retry: RetryConfig{
			DelayMin:    1,
			DelayMax:    30,
			FailTimeout: 24 * 60 * 60,
		},
		Docker: DockerConfig{
			ComposeDir: "/etc/kyaraben/docker",
		},
		Media: MediaConfig{
			Tempdir: "/tmp",
		},
		Prjdata: PrjdataConfig{
			APKPath:    "/data/project/apk/{apk_id}.apk",
			CameraPath: "/data/project/camera/{camera_id}",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies KYARABEN_* environment variable overrides.
func LoadFromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("KYARABEN_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setInt("KYARABEN_SERVER_LISTEN_PORT", &cfg.Server.ListenPort)
	setString("KYARABEN_AMQP_HOSTNAME", &cfg.AMQP.Hostname)
	setString("KYARABEN_AMQP_ADMIN_USERNAME", &cfg.AMQP.AdminUsername)
	setString("KYARABEN_AMQP_ADMIN_PASSWORD", &cfg.AMQP.AdminPassword)
	setString("KYARABEN_ORCHESTRATION_NOVNC_HOST", &cfg.Orchestration.NoVNCHost)
	setString("KYARABEN_ORCHESTRATION_STACKPREFIX", &cfg.Orchestration.StackPrefix)
	setString("KYARABEN_OPENSTACK_OS_AUTH_URL", &cfg.OpenStack.OSAuthURL)
	setString("KYARABEN_OPENSTACK_OS_USERNAME", &cfg.OpenStack.OSUsername)
	setString("KYARABEN_OPENSTACK_OS_PASSWORD", &cfg.OpenStack.OSPassword)
	setString("KYARABEN_OPENSTACK_OS_TENANT_NAME", &cfg.OpenStack.OSTenantName)
	setString("KYARABEN_OPENSTACK_FLOATING_NET", &cfg.OpenStack.FloatingNet)
	setString("KYARABEN_OPENSTACK_TEMPLATE", &cfg.OpenStack.Template)
	setBool("KYARABEN_OPENSTACK_INSECURE", &cfg.OpenStack.Insecure)
	setString("KYARABEN_OPENSTACK_OS_CACERT", &cfg.OpenStack.OSCACert)
	setString("KYARABEN_DB_DSN", &cfg.DB.DSN)
	setInt("KYARABEN_QUOTA_VM_LIVE_MAX", &cfg.Quota.VMLiveMax)
	setInt("KYARABEN_QUOTA_VM_ASYNC_MAX", &cfg.Quota.VMAsyncMax)
	setInt("KYARABEN_WORKER_HEAT_POLL_INTERVAL", &cfg.Worker.HeatPollInterval)
	setInt("KYARABEN_RETRY_DELAY_MIN", &cfg.Retry.DelayMin)
	setInt("KYARABEN_RETRY_DELAY_MAX", &cfg.Retry.DelayMax)
	setInt("KYARABEN_RETRY_FAIL_TIMEOUT", &cfg.Retry.FailTimeout)
	setString("KYARABEN_DOCKER_HOST", &cfg.Docker.Host)
	setBool("KYARABEN_DOCKER_TLS_VERIFY", &cfg.Docker.TLSVerify)
	setString("KYARABEN_DOCKER_COMPOSE_DIR", &cfg.Docker.ComposeDir)
	setString("KYARABEN_MEDIA_TEMPDIR", &cfg.Media.Tempdir)
	setString("KYARABEN_PRJDATA_APK_PATH", &cfg.Prjdata.APKPath)
	setString("KYARABEN_PRJDATA_CAMERA_PATH", &cfg.Prjdata.CameraPath)
	setString("KYARABEN_LOG_LEVEL", &cfg.Log.Level)
	setBool("KYARABEN_LOG_JSONFORMAT", &cfg.Log.JSONFormat)
}

// APKPath expands the apk_id path template.
func (c *Config) APKPath(apkID string) string {
	return strings.ReplaceAll(c.Prjdata.APKPath, "{apk_id}", apkID)
}

// CameraPath expands the camera_id path template.
func (c *Config) CameraPath(cameraID string) string {
	return strings.ReplaceAll(c.Prjdata.CameraPath, "{camera_id}", cameraID)
}

// Package worker consumes orchestration tasks and drives the external
// substrates: Heat stacks, the container runtime and the broker's own
// management surface. One worker processes one message at a time; many
// workers run in parallel against the same queue.
package worker

import (
	"fmt"
	"regexp"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// Task names, stable across the wire.
const (
	TaskProjectContainerCreate   = "project_container_create"
	TaskProjectContainerDelete   = "project_container_delete"
	TaskAVMCreate                = "avm_create"
	TaskAVMContainersCreate      = "avm_containers_create"
	TaskAVMDelete                = "avm_delete"
	TaskAVMMonkey                = "avm_monkey"
	TaskAVMTestRun               = "avm_test_run"
	TaskCameraUpload             = "camera_upload"
	TaskCameraDelete             = "camera_delete"
	TaskAPKUpload                = "apk_upload"
	TaskAPKDelete                = "apk_delete"
	TaskAPKInstall               = "apk_install"
	TaskTestsourceCompile        = "testsource_compile"
	TaskCampaignRun              = "campaign_run"
	TaskCampaignAVMCreate        = "campaign_avm_create"
	TaskCampaignContainersCreate = "campaign_containers_create"
	TaskCampaignRuntest          = "campaign_runtest"
	TaskCampaignDelete           = "campaign_delete"
)

// DelayError is the cooperative suspension signal: the handler cannot make
// progress yet and wants the same message redelivered after the poll
// interval. It is not a failure.
type DelayError struct {
	Reason string
}

func (e *DelayError) Error() string {
	return e.Reason
}

// Delay wraps a reason into a DelayError.
func Delay(format string, args ...any) *DelayError {
	return &DelayError{Reason: fmt.Sprintf(format, args...)}
}

// Task payloads. Field names are the wire format; every task carries the
// requesting userid so permissions are re-checked at execution time.

type ProjectContainerCreatePayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
}

type ProjectContainerDeletePayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
}

type AVMCreatePayload struct {
	UserID    string          `json:"userid"`
	ProjectID string          `json:"project_id"`
	AVMID     string          `json:"avm_id"`
	Image     string          `json:"image"`
	HWConfig  domain.HWConfig `json:"hwconfig"`
	VNCSecret string          `json:"vnc_secret"`
}

type AVMContainersCreatePayload struct {
	UserID         string          `json:"userid"`
	ProjectID      string          `json:"project_id"`
	AVMID          string          `json:"avm_id"`
	HWConfig       domain.HWConfig `json:"hwconfig"`
	AMQPUser       string          `json:"amqp_user"`
	AMQPPassword   string          `json:"amqp_password"`
	AndroidVersion string          `json:"android_version"`
	StackName      string          `json:"stack_name"`
	StackID        string          `json:"stack_id"`
	VNCSecret      string          `json:"vnc_secret"`
}

type AVMDeletePayload struct {
	UserID    string `json:"userid"`
	AVMID     string `json:"avm_id"`
	StackName string `json:"stack_name"`
}

type AVMMonkeyPayload struct {
	UserID     string   `json:"userid"`
	AVMID      string   `json:"avm_id"`
	CommandID  string   `json:"command_id"`
	Packages   []string `json:"packages"`
	EventCount int      `json:"event_count"`
	Throttle   int      `json:"throttle"`
}

type AVMTestRunPayload struct {
	UserID    string `json:"userid"`
	AVMID     string `json:"avm_id"`
	Package   string `json:"package"`
	CommandID string `json:"command_id"`
}

type CameraUploadPayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
	CameraID  string `json:"camera_id"`
	Filename  string `json:"filename"`
	TmpPath   string `json:"tmppath"`
}

type CameraDeletePayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
	CameraID  string `json:"camera_id"`
}

type APKUploadPayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
	APKID     string `json:"apk_id"`
	Filename  string `json:"filename"`
	TmpPath   string `json:"tmppath"`
}

type APKDeletePayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
	APKID     string `json:"apk_id"`
}

type APKInstallPayload struct {
	UserID    string `json:"userid"`
	ProjectID string `json:"project_id"`
	AVMID     string `json:"avm_id"`
	APKID     string `json:"apk_id"`
	CommandID string `json:"command_id"`
}

type TestsourceCompilePayload struct {
	UserID       string `json:"userid"`
	ProjectID    string `json:"project_id"`
	TestsourceID string `json:"testsource_id"`
}

type CampaignRunPayload struct {
	UserID     string `json:"userid"`
	ProjectID  string `json:"project_id"`
	CampaignID string `json:"campaign_id"`
}

type CampaignAVMCreatePayload struct {
	UserID     string          `json:"userid"`
	ProjectID  string          `json:"project_id"`
	CampaignID string          `json:"campaign_id"`
	TestrunID  string          `json:"testrun_id"`
	Image      string          `json:"image"`
	HWConfig   domain.HWConfig `json:"hwconfig"`
	APKIDs     []string        `json:"apk_ids"`
	Packages   []string        `json:"packages"`
}

type CampaignContainersCreatePayload struct {
	UserID         string          `json:"userid"`
	ProjectID      string          `json:"project_id"`
	CampaignID     string          `json:"campaign_id"`
	TestrunID      string          `json:"testrun_id"`
	AVMID          string          `json:"avm_id"`
	HWConfig       domain.HWConfig `json:"hwconfig"`
	AMQPUser       string          `json:"amqp_user"`
	AMQPPassword   string          `json:"amqp_password"`
	AndroidVersion string          `json:"android_version"`
	StackName      string          `json:"stack_name"`
	StackID        string          `json:"stack_id"`
	APKIDs         []string        `json:"apk_ids"`
	Packages       []string        `json:"packages"`
	VNCSecret      string          `json:"vnc_secret"`
}

type CampaignRuntestPayload struct {
	UserID     string   `json:"userid"`
	ProjectID  string   `json:"project_id"`
	CampaignID string   `json:"campaign_id"`
	AVMID      string   `json:"avm_id"`
	StackName  string   `json:"stack_name"`
	TestrunID  string   `json:"testrun_id"`
	APKIDs     []string `json:"apk_ids"`
	Packages   []string `json:"packages"`
}

type CampaignDeletePayload struct {
	UserID     string `json:"userid"`
	ProjectID  string `json:"project_id"`
	CampaignID string `json:"campaign_id"`
}

// NewStackName derives the Heat stack name for a create operation. Heat may
// truncate long names, so the stored stack_name column is authoritative for
// later lookups; this derivation is only used once.
func NewStackName(stackPrefix, userid, avmID string) string {
	if stackPrefix != "" {
		return fmt.Sprintf("%s-%s-%s", stackPrefix, userid, avmID)
	}
	return fmt.Sprintf("%s-%s", userid, avmID)
}

var instrumentationRE = regexp.MustCompile(`instrumentation:(?P<package>.*) \(target=(?P<target>.*)\)`)

// androidSampleInstrumentation ships with the emulator image and is not a
// user test package.
const androidSampleInstrumentation = "com.example.android.apis/.app.LocalSampleInstrumentation"

// ParseInstrumentation extracts instrumentation package names from
// `pm list instrumentation` output.
func ParseInstrumentation(lines []string) ([]string, error) {
	var packages []string
	for _, line := range lines {
		if line == "" {
			continue
		}
		m := instrumentationRE.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("cannot parse instrumentation package: %s", line)
		}
		if m[1] != androidSampleInstrumentation {
			packages = append(packages, m[1])
		}
	}
	return packages, nil
}

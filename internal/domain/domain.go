// Package domain holds the entity records shared by the store, the task
// worker and the HTTP API. Entities reference each other by ID only; no
// object pointers cross a task boundary.
package domain

// Status values shared by the user-visible entities. Not every entity uses
// every value: commands have no DELETED, uploads skip the COMPILING states.
const (
	StatusQueued        = "QUEUED"
	StatusCreating      = "CREATING"
	StatusRunning       = "RUNNING"
	StatusReady         = "READY"
	StatusDeleting      = "DELETING"
	StatusDeleted       = "DELETED"
	StatusError         = "ERROR"
	StatusCompilingDSL  = "COMPILING DSL"
	StatusCompilingJava = "COMPILING JAVA"
)

// HWConfig describes the emulated hardware of an AVM: display geometry plus
// the capability switches projected into the player container environment.
type HWConfig struct {
	Width         int `json:"width"`
	Height        int `json:"height"`
	DPI           int `json:"dpi"`
	EnableSensors int `json:"enable_sensors"`
	EnableBattery int `json:"enable_battery"`
	EnableGPS     int `json:"enable_gps"`
	EnableCamera  int `json:"enable_camera"`
	EnableRecord  int `json:"enable_record"`
	EnableGSM     int `json:"enable_gsm"`
	EnableNFC     int `json:"enable_nfc"`
}

// DefaultHWConfig returns the hardware profile used when a request does not
// override it.
func DefaultHWConfig() HWConfig {
	return HWConfig{
		Width:         800,
		Height:        600,
		DPI:           160,
		EnableSensors: 1,
		EnableBattery: 1,
		EnableGPS:     1,
		EnableCamera:  1,
		EnableRecord:  0,
		EnableGSM:     1,
		EnableNFC:     0,
	}
}

// Project is the top-level grouping owned by a user.
type Project struct {
	ProjectID    string `json:"project_id"`
	ProjectName  string `json:"project_name"`
	UIDOwner     string `json:"uid_owner"`
	Status       string `json:"status"`
	StatusTS     string `json:"status_ts,omitempty"`
	StatusReason string `json:"status_reason,omitempty"`
}

// AVM is one Android virtual machine: a Heat stack plus a player container
// group. StackName is assigned before Heat submission and never changes.
type AVM struct {
	AVMID        string   `json:"avm_id"`
	AVMName      string   `json:"avm_name"`
	UIDOwner     string   `json:"avm_owner"`
	ProjectID    string   `json:"project_id"`
	Image        string   `json:"image"`
	HWConfig     HWConfig `json:"hwconfig"`
	TestrunID    string   `json:"testrun_id,omitempty"`
	StackName    string   `json:"stack_name,omitempty"`
	Status       string   `json:"status"`
	StatusTS     string   `json:"status_ts,omitempty"`
	StatusReason string   `json:"status_reason,omitempty"`
	TSCreated    string   `json:"ts_created"`
	Uptime       int64    `json:"uptime"`
	CampaignID   string   `json:"campaign_id,omitempty"`
}

// Command records a single execution on an AVM with captured output.
// A row without ts_begin is implicitly QUEUED.
type Command struct {
	CommandID      string `json:"command_id"`
	AVMID          string `json:"avm_id"`
	TSRequest      string `json:"ts_request"`
	TSBegin        string `json:"ts_begin,omitempty"`
	TSEnd          string `json:"ts_end,omitempty"`
	Command        string `json:"command"`
	ProcReturncode int    `json:"proc_returncode"`
	ProcStdout     string `json:"proc_stdout"`
	ProcStderr     string `json:"proc_stderr"`
	Status         string `json:"status"`
	StatusReason   string `json:"status_reason,omitempty"`
}

// APK is an uploaded or compiled application package.
type APK struct {
	APKID        string `json:"apk_id"`
	ProjectID    string `json:"project_id"`
	Filename     string `json:"filename"`
	Package      string `json:"package"`
	TestsourceID string `json:"testsource_id,omitempty"`
	Status       string `json:"status"`
	StatusReason string `json:"status_reason,omitempty"`
}

// Camera is an uploaded video file made available to the camera emulation.
type Camera struct {
	CameraID  string `json:"camera_id"`
	ProjectID string `json:"project_id"`
	Filename  string `json:"filename"`
	Status    string `json:"status"`
}

// Testsource is a DSL test description compiled into an APK.
type Testsource struct {
	TestsourceID    string `json:"testsource_id"`
	ProjectID       string `json:"project_id"`
	Filename        string `json:"filename"`
	APKID           string `json:"apk_id,omitempty"`
	Status          string `json:"status"`
	APKStatus       string `json:"apk_status,omitempty"`
	APKStatusReason string `json:"apk_status_reason,omitempty"`
}

// Campaign groups the testruns submitted in one request.
type Campaign struct {
	CampaignID   string `json:"campaign_id"`
	ProjectID    string `json:"project_id"`
	CampaignName string `json:"campaign_name"`
	Status       string `json:"status"`
}

// CampaignTest is one (image, apks, packages) triple of a campaign request.
// Packages may be empty; they are then discovered on the VM.
type CampaignTest struct {
	Image    string    `json:"image"`
	HWConfig *HWConfig `json:"hwconfig,omitempty"`
	APKs     []string  `json:"apks"`
	Packages []string  `json:"packages"`
}

// Testrun is the expansion of one CampaignTest, mapped to one ephemeral AVM.
type Testrun struct {
	TestrunID  string   `json:"testrun_id"`
	CampaignID string   `json:"campaign_id"`
	Image      string   `json:"image"`
	HWConfig   HWConfig `json:"hwconfig"`
	APKIDs     []string `json:"apk_ids"`
	Packages   []string `json:"packages"`
}

// Image is an entry of the boot image catalog.
type Image struct {
	Image          string `json:"image"`
	SystemImage    string `json:"system_image"`
	DataImage      string `json:"data_image"`
	AndroidVersion string `json:"android_version"`
}

// CampaignTestResult is one line of the campaign results rollup.
type CampaignTestResult struct {
	Image    string   `json:"image"`
	HWConfig HWConfig `json:"hwconfig"`
	Package  string   `json:"package"`
	Status   string   `json:"status"`
	Stdout   string   `json:"stdout"`
}

// CampaignResults is the rollup returned by the campaign results endpoint.
type CampaignResults struct {
	ProjectID      string               `json:"project_id"`
	CampaignID     string               `json:"campaign_id"`
	CampaignName   string               `json:"campaign_name"`
	CampaignStatus string               `json:"campaign_status"`
	Progress       float64              `json:"progress"`
	Tests          []CampaignTestResult `json:"tests"`
}

package worker

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/kyaraben/kyaraben/internal/heat"
	"github.com/kyaraben/kyaraben/internal/store"
)

func TestNewStackName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		userid string
		avmID  string
		want   string
	}{
		{"with prefix", "kyaraben", "alice", "a1b2", "kyaraben-alice-a1b2"},
		{"empty prefix", "", "alice", "a1b2", "alice-a1b2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewStackName(tt.prefix, tt.userid, tt.avmID); got != tt.want {
				t.Errorf("NewStackName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseInstrumentation(t *testing.T) {
	lines := []string{
		"instrumentation:com.example.test/.Runner (target=com.example)",
		"",
		"instrumentation:com.example.android.apis/.app.LocalSampleInstrumentation (target=com.example.android.apis)",
		"instrumentation:org.other.test/.Other (target=org.other)",
	}
	got, err := ParseInstrumentation(lines)
	if err != nil {
		t.Fatalf("ParseInstrumentation: %v", err)
	}
	want := []string{"com.example.test/.Runner", "org.other.test/.Other"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("packages = %v, want %v", got, want)
	}
}

func TestParseInstrumentationBadLine(t *testing.T) {
	if _, err := ParseInstrumentation([]string{"garbage output"}); err == nil {
		t.Error("unparseable line must be an error, not skipped")
	}
}

func TestDelayError(t *testing.T) {
	err := fmt.Errorf("handler: %w", Delay("stack %s not ready", "s1"))

	var delayErr *DelayError
	if !errors.As(err, &delayErr) {
		t.Fatal("Delay must unwrap to *DelayError")
	}
	if delayErr.Reason != "stack s1 not ready" {
		t.Errorf("reason = %q", delayErr.Reason)
	}
}

func TestClassifyPermanent(t *testing.T) {
	ids := payloadIDs{AVMID: "avm-1"}

	tests := []struct {
		name       string
		err        error
		wantReason string
		wantPerm   bool
	}{
		{
			name:       "image not found",
			err:        fmt.Errorf("create: %w", &heat.AVMImageNotFoundError{Image: "android-9"}),
			wantReason: "Image android-9 not found",
			wantPerm:   true,
		},
		{
			name:       "stack not found",
			err:        fmt.Errorf("delete: %w", &heat.AVMNotFoundError{StackName: "s"}),
			wantReason: "VM avm-1 not found",
			wantPerm:   true,
		},
		{
			name:     "ordinary failure",
			err:      errors.New("connection refused"),
			wantPerm: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, perm := classifyPermanent(tt.err, ids)
			if perm != tt.wantPerm {
				t.Fatalf("permanent = %v, want %v", perm, tt.wantPerm)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestProjectionOrder(t *testing.T) {
	ids := payloadIDs{
		ProjectID: "p", AVMID: "a", APKID: "k", CameraID: "c", CommandID: "m",
	}

	var tables []string
	for _, target := range projectionOrder(ids) {
		tables = append(tables, target.ref.Table)
	}
	want := []string{"avm_commands", "project_apks", "project_camera", "avms", "projects"}
	if !reflect.DeepEqual(tables, want) {
		t.Errorf("projection order = %v, want %v", tables, want)
	}
}

func TestObsolescenceSkipsCommands(t *testing.T) {
	ids := payloadIDs{ProjectID: "p", AVMID: "a", CommandID: "m"}
	for _, check := range obsolescenceRefs(ids) {
		if check.ref == store.RefCommand {
			t.Error("commands have no DELETED state and must not be checked")
		}
	}
}

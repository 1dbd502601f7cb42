package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kyaraben/kyaraben/internal/config"
)

func newTestHandler() *Handler {
	return &Handler{Cfg: config.DefaultConfig()}
}

func TestMissingUserHeader(t *testing.T) {
	srv := httptest.NewServer(newTestHandler().Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/user/whoami")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWhoami(t *testing.T) {
	srv := httptest.NewServer(newTestHandler().Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/user/whoami", nil)
	req.Header.Set(HeaderUser, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
}

func TestProjectCreateRejectsBadJSON(t *testing.T) {
	srv := httptest.NewServer(newTestHandler().Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/projects/",
		strings.NewReader("{not json"))
	req.Header.Set(HeaderUser, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProjectCreateRequiresName(t *testing.T) {
	srv := httptest.NewServer(newTestHandler().Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/projects/",
		strings.NewReader("{}"))
	req.Header.Set(HeaderUser, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestParseProperties(t *testing.T) {
	lines := []string{
		"[ro.build.version.release]: [7.1.1]",
		"[dev.bootcomplete]: [1]",
		"garbage line",
		"[net.dns1]: []",
	}
	props := parseProperties(lines)
	if len(props) != 3 {
		t.Fatalf("got %d properties, want 3", len(props))
	}
	if props["ro.build.version.release"] != "7.1.1" {
		t.Errorf("release = %q", props["ro.build.version.release"])
	}
	if props["net.dns1"] != "" {
		t.Errorf("empty value round trip = %q", props["net.dns1"])
	}
}

func TestBadgingPackageRE(t *testing.T) {
	line := "package: name='com.example.app' versionCode='7' versionName='1.2'"
	m := badgingPackageRE.FindStringSubmatch(line)
	if m == nil {
		t.Fatal("badging line did not match")
	}
	if m[1] != "com.example.app" {
		t.Errorf("package = %q", m[1])
	}
}

func TestFilenameExtRE(t *testing.T) {
	tests := []struct {
		ext string
		ok  bool
	}{
		{".mp4", true},
		{".webm", true},
		{"", false},
		{".mp4;rm -rf", false},
	}
	for _, tt := range tests {
		if got := filenameExtRE.MatchString(tt.ext); got != tt.ok {
			t.Errorf("ext %q allowed = %v, want %v", tt.ext, got, tt.ok)
		}
	}
}

func TestGenerateName(t *testing.T) {
	name := generateName()
	if !strings.Contains(name, "-") {
		t.Errorf("generated name %q has no separator", name)
	}
	if len(name) > campaignNameMax {
		t.Errorf("generated name %q too long", name)
	}
}

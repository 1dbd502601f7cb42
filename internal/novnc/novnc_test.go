package novnc

import "testing"

func TestConsoleURL(t *testing.T) {
	c := Console{Host: "console.example.org", ScreenPort: "32769"}
	want := "https://console.example.org/vnc_auto.html?host=console.example.org&port=32769"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

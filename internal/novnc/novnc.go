// Package novnc assembles the browser console coordinates of an AVM. The
// actual console is served by the player's xorg container; this only knows
// how to point a client at it.
package novnc

import "fmt"

// Console holds the connection coordinates of one AVM console.
type Console struct {
	Host       string `json:"host"`
	ScreenPort string `json:"screen_port"`
	SoundPort  string `json:"sound_port"`
}

// URL returns the noVNC page address for the console. The TOTP code from
// the avmotp secret is entered by the user, never embedded in the URL.
func (c Console) URL() string {
	return fmt.Sprintf("https://%s/vnc_auto.html?host=%s&port=%s",
		c.Host, c.Host, c.ScreenPort)
}

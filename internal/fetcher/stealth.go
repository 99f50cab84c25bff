package fetcher

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// BrowserProfile is the desktop fingerprint stealth pages present.
// go-rod/stealth hides the automation tells; the profile keeps screen,
// platform and hardware values consistent with each other.
type BrowserProfile struct {
	Width, Height int
	Language      string
	Platform      string
	Cores         int
	MemoryGB      int

	// UserDataDir keeps a persistent Chromium profile when set.
	UserDataDir string
}

var desktopScreens = [][2]int{
	{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 720},
}

// DefaultBrowserProfile picks a common desktop screen and platform.
func DefaultBrowserProfile() *BrowserProfile {
	screen := desktopScreens[rand.IntN(len(desktopScreens))]
	platforms := []string{"Win32", "MacIntel", "Linux x86_64"}
	return &BrowserProfile{
		Width:    screen[0],
		Height:   screen[1],
		Language: "en-US",
		Platform: platforms[rand.IntN(len(platforms))],
		Cores:    []int{4, 8, 12, 16}[rand.IntN(4)],
		MemoryGB: 8,
	}
}

// WindowSize formats the screen for Chromium's --window-size flag.
func (p *BrowserProfile) WindowSize() string {
	return fmt.Sprintf("%d,%d", p.Width, p.Height)
}

// InitScript returns JavaScript run on every new document, before page
// scripts, overriding the navigator properties the profile pins.
func (p *BrowserProfile) InitScript() string {
	overrides := []struct{ prop, value string }{
		{"platform", strconv.Quote(p.Platform)},
		{"language", strconv.Quote(p.Language)},
		{"languages", fmt.Sprintf("[%s, %q]", strconv.Quote(p.Language), "en")},
		{"hardwareConcurrency", strconv.Itoa(p.Cores)},
		{"deviceMemory", strconv.Itoa(p.MemoryGB)},
		{"webdriver", "false"},
	}
	var b strings.Builder
	for _, o := range overrides {
		fmt.Fprintf(&b, "Object.defineProperty(navigator, %q, { get: () => %s });\n", o.prop, o.value)
	}
	return b.String()
}

// Package webassets embeds the configuration page served at /configure.
// The page is a single self-contained document; the binary ships with
// no on-disk asset dependencies.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed configure
var embedded embed.FS

// ConfigureFS exposes the raw configure assets.
func ConfigureFS() fs.FS {
	sub, err := fs.Sub(embedded, "configure")
	if err != nil {
		panic(fmt.Errorf("webassets: configure subfs: %w", err))
	}
	return sub
}

// ConfigurePage renders the configure page with the instance's addon
// name and optional operator-supplied HTML block substituted in.
func ConfigurePage(addonName, customHTML string) ([]byte, error) {
	raw, err := fs.ReadFile(ConfigureFS(), "index.html")
	if err != nil {
		return nil, fmt.Errorf("webassets: read configure page: %w", err)
	}
	page := strings.ReplaceAll(string(raw), "{{ADDON_NAME}}", addonName)
	page = strings.ReplaceAll(page, "{{CUSTOM_HTML}}", customHTML)
	return []byte(page), nil
}

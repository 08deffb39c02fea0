package webassets

import (
	"io/fs"
	"strings"
	"testing"
)

func TestConfigureFS_HasIndex(t *testing.T) {
	info, err := fs.Stat(ConfigureFS(), "index.html")
	if err != nil {
		t.Fatalf("index.html not found: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("index.html is empty")
	}
}

func TestConfigurePage_SubstitutesPlaceholders(t *testing.T) {
	page, err := ConfigurePage("WAStream", "<p>bienvenue</p>")
	if err != nil {
		t.Fatalf("ConfigurePage: %v", err)
	}
	s := string(page)

	if strings.Contains(s, "{{ADDON_NAME}}") || strings.Contains(s, "{{CUSTOM_HTML}}") {
		t.Error("placeholders left unsubstituted")
	}
	if !strings.Contains(s, "<title>WAStream - Configuration</title>") {
		t.Error("addon name not substituted into title")
	}
	if !strings.Contains(s, "<p>bienvenue</p>") {
		t.Error("custom html block missing")
	}
}

func TestConfigurePage_EmptyCustomHTML(t *testing.T) {
	page, err := ConfigurePage("WAStream", "")
	if err != nil {
		t.Fatalf("ConfigurePage: %v", err)
	}
	if strings.Contains(string(page), "{{") {
		t.Error("unresolved placeholder remains")
	}
}

// Package stremio holds the addon-protocol surface: the manifest,
// user configuration parsing, and content ID handling.
package stremio

const ManifestVersion = "2.0.1"

// Manifest is the addon descriptor Stremio fetches at install time.
type Manifest struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Version       string        `json:"version"`
	Description   string        `json:"description"`
	Catalogs      []any         `json:"catalogs"`
	Resources     []string      `json:"resources"`
	Types         []string      `json:"types"`
	IDPrefixes    []string      `json:"idPrefixes"`
	BehaviorHints BehaviorHints `json:"behaviorHints"`
	Logo          string        `json:"logo,omitempty"`
	Background    string        `json:"background,omitempty"`
}

type BehaviorHints struct {
	Configurable bool `json:"configurable"`
}

// NewManifest builds the manifest for this instance. Catalogs stay
// empty: the addon only answers stream requests for IDs the client
// already knows about.
func NewManifest(id, name string) Manifest {
	return Manifest{
		ID:          id,
		Name:        name,
		Version:     ManifestVersion,
		Description: "Accès au contenu de Wawacity via Stremio & AllDebrid (non officiel)",
		Catalogs:    []any{},
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series", "anime"},
		IDPrefixes:  []string{"tt", "kitsu"},
		BehaviorHints: BehaviorHints{
			Configurable: true,
		},
		Logo:       "https://raw.githubusercontent.com/Dydhzo/wastream/refs/heads/main/wastream/public/wastream-logo.jpg",
		Background: "https://raw.githubusercontent.com/Dydhzo/wastream/refs/heads/main/wastream/public/wastream-background.png",
	}
}

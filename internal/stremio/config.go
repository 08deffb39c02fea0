package stremio

import (
	"encoding/base64"
	"encoding/json"

	"github.com/dydhzo/wastream/internal/xerrors"
)

// UserConfig is the per-install configuration carried base64-encoded in
// the addon URL. The debrid key and the TMDB token are mandatory;
// everything else is optional.
type UserConfig struct {
	AllDebrid     string   `json:"alldebrid"`
	TMDB          string   `json:"tmdb"`
	ExcludedWords []string `json:"excluded_words,omitempty"`
	Password      string   `json:"password,omitempty"`
}

// ParseConfig decodes and validates the base64 config segment. Any
// malformed or incomplete config yields an error; callers translate
// that into a 400/empty-streams response rather than guessing.
func ParseConfig(b64 string) (*UserConfig, error) {
	if b64 == "" {
		return nil, xerrors.New("empty config")
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, xerrors.Wrap(err, "config is not valid base64")
	}

	var cfg UserConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, xerrors.Wrap(err, "config is not valid json")
	}

	if cfg.AllDebrid == "" {
		return nil, xerrors.New("config missing alldebrid key")
	}
	if cfg.TMDB == "" {
		return nil, xerrors.New("config missing tmdb token")
	}

	if cfg.ExcludedWords == nil {
		cfg.ExcludedWords = []string{}
	}

	return &cfg, nil
}

// Encode is the inverse of ParseConfig, used by tests and the
// configure page flow.
func (c *UserConfig) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", xerrors.Wrap(err, "encode config")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

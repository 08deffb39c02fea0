package stremio

import (
	"encoding/base64"
	"testing"
)

func encode(t *testing.T, raw string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func TestParseConfig_Valid(t *testing.T) {
	cfg, err := ParseConfig(encode(t, `{"alldebrid":"adkey","tmdb":"tmtoken"}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.AllDebrid != "adkey" || cfg.TMDB != "tmtoken" {
		t.Errorf("parsed = %+v", cfg)
	}
	if cfg.ExcludedWords == nil || len(cfg.ExcludedWords) != 0 {
		t.Errorf("excluded words should default to empty slice, got %#v", cfg.ExcludedWords)
	}
}

func TestParseConfig_ExcludedWords(t *testing.T) {
	cfg, err := ParseConfig(encode(t, `{"alldebrid":"a","tmdb":"t","excluded_words":["cam","ts"]}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if len(cfg.ExcludedWords) != 2 || cfg.ExcludedWords[0] != "cam" {
		t.Errorf("excluded = %v", cfg.ExcludedWords)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"not base64":         "!!!not-base64!!!",
		"not json":           encode(t, "hello"),
		"json array":         encode(t, `["alldebrid"]`),
		"missing alldebrid":  encode(t, `{"tmdb":"t"}`),
		"missing tmdb":       encode(t, `{"alldebrid":"a"}`),
		"empty alldebrid":    encode(t, `{"alldebrid":"","tmdb":"t"}`),
		"empty tmdb":         encode(t, `{"alldebrid":"a","tmdb":""}`),
		"excluded not array": encode(t, `{"alldebrid":"a","tmdb":"t","excluded_words":"cam"}`),
	}
	for name, in := range cases {
		if _, err := ParseConfig(in); err == nil {
			t.Errorf("%s: accepted %q", name, in)
		}
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	orig := &UserConfig{AllDebrid: "a", TMDB: "t", ExcludedWords: []string{"cam"}, Password: "pw"}
	b64, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := ParseConfig(b64)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if got.AllDebrid != "a" || got.TMDB != "t" || got.Password != "pw" || len(got.ExcludedWords) != 1 {
		t.Errorf("round trip = %+v", got)
	}
}

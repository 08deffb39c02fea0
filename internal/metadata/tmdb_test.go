package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dydhzo/wastream/internal/httpclient"
)

func newTMDBClient(t *testing.T, apiURL string) *TMDB {
	t.Helper()
	hc, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("httpclient: %v", err)
	}
	t.Cleanup(hc.Close)

	tm, err := NewTMDB(TMDBOptions{HTTP: hc, APIURL: apiURL})
	if err != nil {
		t.Fatalf("NewTMDB: %v", err)
	}
	return tm
}

func TestTMDBLookup_Movie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/find/tt0133093":
			fmt.Fprint(w, `{"movie_results":[{"id":603,"release_date":"1999-03-31"}]}`)
		case "/movie/603":
			fmt.Fprint(w, `{
				"title":"The Matrix","original_title":"The Matrix",
				"translations":{"translations":[
					{"iso_639_1":"de","data":{"title":"Matrix DE"}},
					{"iso_639_1":"fr","data":{"title":"Matrix"}}
				]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	info, err := newTMDBClient(t, srv.URL).Lookup(context.Background(), "tok", "tt0133093")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Type != "movie" || info.Category != CategoryFilms {
		t.Errorf("type/category = %q/%q", info.Type, info.Category)
	}
	if info.Year != "1999" {
		t.Errorf("year = %q", info.Year)
	}
	// lowercased, deduped, french appended
	want := []string{"the matrix", "matrix"}
	if len(info.Titles) != len(want) {
		t.Fatalf("titles = %v", info.Titles)
	}
	for i := range want {
		if info.Titles[i] != want[i] {
			t.Errorf("titles[%d] = %q, want %q", i, info.Titles[i], want[i])
		}
	}
	if info.Title() != "the matrix" {
		t.Errorf("preferred title = %q", info.Title())
	}
}

func TestTMDBLookup_Series(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/find/tt0944947":
			fmt.Fprint(w, `{"tv_results":[{"id":1399,"first_air_date":"2011-04-17","genre_ids":[18,10765]}]}`)
		case "/tv/1399":
			fmt.Fprint(w, `{"name":"Game of Thrones","original_name":"Game of Thrones",
				"translations":{"translations":[{"iso_639_1":"fr","data":{"name":"Le Trône de fer"}}]}}`)
		}
	}))
	defer srv.Close()

	info, err := newTMDBClient(t, srv.URL).Lookup(context.Background(), "tok", "tt0944947")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Type != "series" || info.Category != CategorySeries {
		t.Errorf("type/category = %q/%q", info.Type, info.Category)
	}
	if len(info.Titles) != 2 || info.Titles[1] != "le trône de fer" {
		t.Errorf("titles = %v", info.Titles)
	}
}

func TestTMDBLookup_AnimeDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/find/tt2560140":
			// genre 16 = animation
			fmt.Fprint(w, `{"tv_results":[{"id":1429,"first_air_date":"2013-04-07","genre_ids":[16,10759]}]}`)
		case "/tv/1429":
			// keyword 210024 = anime
			fmt.Fprint(w, `{"name":"Attack on Titan","original_name":"進撃の巨人",
				"translations":{"translations":[{"iso_639_1":"fr","data":{"name":"L'Attaque des Titans"}}]},
				"keywords":{"results":[{"id":210024}]}}`)
		}
	}))
	defer srv.Close()

	info, err := newTMDBClient(t, srv.URL).Lookup(context.Background(), "tok", "tt2560140")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Category != CategoryAnimes {
		t.Errorf("category = %q, want %q", info.Category, CategoryAnimes)
	}
}

func TestTMDBLookup_AnimationWithoutAnimeKeyword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/find/tt0096697":
			fmt.Fprint(w, `{"tv_results":[{"id":456,"first_air_date":"1989-12-17","genre_ids":[16,35]}]}`)
		case "/tv/456":
			fmt.Fprint(w, `{"name":"The Simpsons","keywords":{"results":[{"id":9999}]}}`)
		}
	}))
	defer srv.Close()

	info, err := newTMDBClient(t, srv.URL).Lookup(context.Background(), "tok", "tt0096697")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Category != CategorySeries {
		t.Errorf("western animation classified as %q", info.Category)
	}
}

func TestTMDBLookup_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"movie_results":[],"tv_results":[]}`)
	}))
	defer srv.Close()

	if _, err := newTMDBClient(t, srv.URL).Lookup(context.Background(), "tok", "tt0000000"); err == nil {
		t.Fatal("no match did not error")
	}
}

func TestTMDBLookup_EmptyToken(t *testing.T) {
	if _, err := newTMDBClient(t, "http://unused.invalid").Lookup(context.Background(), "  ", "tt1"); err == nil {
		t.Fatal("blank token accepted")
	}
}

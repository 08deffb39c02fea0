package scraper

import (
	"sort"
	"strconv"
	"strings"
)

// qualityRank orders results by resolution, then release type. Lower
// ranks sort first.
func qualityRank(quality string) (resolution, release int) {
	q := strings.ToUpper(quality)

	switch {
	case strings.Contains(q, "2160") || strings.Contains(q, "4K") || strings.Contains(q, "UHD"):
		resolution = 0
	case strings.Contains(q, "1080") || q == "HD":
		resolution = 1
	case strings.Contains(q, "720"):
		resolution = 2
	default:
		resolution = 99
	}

	switch {
	case strings.Contains(q, "REMUX"):
		release = 0
	case strings.Contains(q, "BLURAY") || strings.Contains(q, "BLU-RAY"):
		release = 1
	case strings.Contains(q, "WEB-DL") || strings.Contains(q, "WEBDL"):
		release = 2
	case strings.Contains(q, "HDLIGHT") || strings.Contains(q, "LIGHT"):
		release = 3
	case strings.Contains(q, "WEBRIP"):
		release = 4
	case strings.Contains(q, "HDRIP"):
		release = 5
	default:
		release = 99
	}
	return resolution, release
}

func qualityLess(a, b Result) bool {
	ar, arel := qualityRank(a.Quality)
	br, brel := qualityRank(b.Quality)
	if ar != br {
		return ar < br
	}
	return arel < brel
}

func sortMovieResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return qualityLess(results[i], results[j])
	})
}

func sortEpisodeResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := atoiSafe(results[i].Season), atoiSafe(results[j].Season)
		if si != sj {
			return si < sj
		}
		ei, ej := atoiSafe(results[i].Episode), atoiSafe(results[j].Episode)
		if ei != ej {
			return ei < ej
		}
		return qualityLess(results[i], results[j])
	})
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

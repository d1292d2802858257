package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// trailingID matches the numeric catalog identifier at the end of a path
// segment, e.g. "202078949" or "N-202078949".
var trailingID = regexp.MustCompile(`(\d+)$`)

// Resolve maps a raw category URL to its CategoryTarget. The canonical id is
// the trailing numeric identifier in the URL path; URLs that differ only in
// filter segments resolve to the same id. Pure function, no side effects.
func Resolve(rawURL string) (CategoryTarget, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return CategoryTarget{}, fmt.Errorf("%w: %q: %v", ErrUnparseableURL, rawURL, err)
	}
	segments := pathSegments(u.Path)
	if len(segments) == 0 {
		return CategoryTarget{}, fmt.Errorf("%w: %q: empty path", ErrUnparseableURL, rawURL)
	}
	last := segments[len(segments)-1]
	m := trailingID.FindStringSubmatch(last)
	if m == nil {
		return CategoryTarget{}, fmt.Errorf("%w: %q: no trailing numeric id", ErrUnparseableURL, rawURL)
	}
	return CategoryTarget{
		RawURL:      rawURL,
		CanonicalID: CanonicalID(m[1]),
		FilterTags:  filterTags(segments),
	}, nil
}

// filterTags returns the path segments between the category name and the id
// segment. For /bathtubs/clawfoot/ID that is ["clawfoot"]; for /bathtubs/ID
// it is empty.
func filterTags(segments []string) []string {
	if len(segments) <= 2 {
		return nil
	}
	tags := make([]string, len(segments)-2)
	copy(tags, segments[1:len(segments)-1])
	return tags
}

func pathSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GroupByCanonicalID resolves every raw URL and buckets them by canonical id.
// Any unparseable URL fails the whole call; planning must not silently drop
// categories.
func GroupByCanonicalID(rawURLs []string) (map[CanonicalID][]string, error) {
	groups := make(map[CanonicalID][]string, len(rawURLs))
	for _, raw := range rawURLs {
		target, err := Resolve(raw)
		if err != nil {
			return nil, err
		}
		groups[target.CanonicalID] = append(groups[target.CanonicalID], raw)
	}
	return groups, nil
}

// SelectRepresentatives picks exactly one URL per canonical id: the least
// filtered one (fewest path segments), tie-broken lexicographically. The
// result is sorted by canonical id so planning output is deterministic.
func SelectRepresentatives(groups map[CanonicalID][]string) ([]CategoryTarget, error) {
	out := make([]CategoryTarget, 0, len(groups))
	for id, urls := range groups {
		best := ""
		bestDepth := 0
		for _, raw := range urls {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrUnparseableURL, raw, err)
			}
			depth := len(pathSegments(u.Path))
			if best == "" || depth < bestDepth || (depth == bestDepth && raw < best) {
				best = raw
				bestDepth = depth
			}
		}
		target, err := Resolve(best)
		if err != nil {
			return nil, err
		}
		if target.CanonicalID != id {
			return nil, fmt.Errorf("representative %q resolves to %q, expected %q", best, target.CanonicalID, id)
		}
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out, nil
}

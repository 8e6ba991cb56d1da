// Package expressions enumerates the host-suffix / path-prefix lookup
// expressions used to probe the local prefix tables and the remote
// full-hash service.
//
// Grounded on the vendored google/safebrowsing package's
// generateLookupHosts/generateLookupPaths (urls.go), adapted to operate on
// a urls.CanonicalURI and to the host-suffix counting rule this module's
// list format actually uses.
package expressions

import (
	"net"
	"strings"

	"github.com/letsencrypt/gsb/internal/urls"
)

const maxExpressions = 30

// maxPathComponents bounds how many leading path components contribute to
// the cumulative directory-prefix expansion.
const maxPathComponents = 4

// maxHostSuffixLabels bounds how many trailing host labels a suffix may
// span, independent of how many labels the host actually has.
const maxHostSuffixLabels = 5

// Enumerate returns the de-duplicated set of host-suffix/path-prefix
// expressions for u, capped at 30 entries.
func Enumerate(u urls.CanonicalURI) []string {
	hosts := hostSuffixes(u.Host)
	paths := pathPrefixes(u.Path, u.Query)

	seen := make(map[string]struct{}, len(hosts)*len(paths))
	out := make([]string, 0, len(hosts)*len(paths))
	for _, h := range hosts {
		for _, p := range paths {
			expr := h + p
			if _, ok := seen[expr]; ok {
				continue
			}
			seen[expr] = struct{}{}
			out = append(out, expr)
			if len(out) >= maxExpressions {
				return out
			}
		}
	}
	return out
}

// hostSuffixes returns the exact host plus, for a non-IP host with at
// least 3 labels, the last N labels for N = 2..5, capped to one fewer
// than the label count.
func hostSuffixes(host string) []string {
	if net.ParseIP(host) != nil {
		return []string{host}
	}

	labels := strings.Split(host, ".")
	suffixes := []string{host}
	if len(labels) < 3 {
		return suffixes
	}

	maxN := len(labels) - 1
	if maxN > maxHostSuffixLabels {
		maxN = maxHostSuffixLabels
	}
	for n := 2; n <= maxN; n++ {
		suffixes = append(suffixes, strings.Join(labels[len(labels)-n:], "."))
	}
	return suffixes
}

// pathPrefixes returns the root, up to maxPathComponents-1 cumulative
// directory prefixes, the exact path, and the exact path with query (if
// present).
func pathPrefixes(path, query string) []string {
	var components []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			components = append(components, c)
		}
	}

	numComponents := len(components)
	if numComponents > maxPathComponents {
		numComponents = maxPathComponents
	}

	paths := []string{"/"}
	for i := 1; i < numComponents; i++ {
		paths = append(paths, "/"+strings.Join(components[:i], "/")+"/")
	}
	if path != "/" {
		paths = append(paths, path)
	}
	if query != "" {
		paths = append(paths, path+"?"+query)
	}
	return paths
}

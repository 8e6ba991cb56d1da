// Package threatlist identifies threat lists by their
// (threatType, platformType, threatEntryType) triple and expands
// wildcard selectors against a known-list catalog.
//
// Grounded on the identifier package's ACMEIdentifier value-identity
// pattern (identifier/identifier.go): a small, comparable struct with a
// constructor and a canonical string form.
package threatlist

import (
	"fmt"
	"strings"

	gsberrors "github.com/letsencrypt/gsb/errors"
)

// Wildcard matches any token in a selector.
const Wildcard = "*"

// Id identifies a single threat list by its identity triple. Two Ids are
// equal iff all three fields match; Id is comparable and safe to use as a
// map key.
type Id struct {
	ThreatType     string
	PlatformType   string
	ThreatEntryType string
}

// String renders the canonical "THREAT_TYPE/PLATFORM_TYPE/ENTRY_TYPE" form
// used in configuration and log output.
func (i Id) String() string {
	return fmt.Sprintf("%s/%s/%s", i.ThreatType, i.PlatformType, i.ThreatEntryType)
}

// New builds an Id from its three tokens, upper-casing each.
func New(threatType, platformType, threatEntryType string) Id {
	return Id{
		ThreatType:      strings.ToUpper(threatType),
		PlatformType:    strings.ToUpper(platformType),
		ThreatEntryType: strings.ToUpper(threatEntryType),
	}
}

// Selector is a possibly-wildcarded reference to one or more Ids, as
// supplied by a caller (e.g. "MALWARE/WINDOWS/URL" or "*/WINDOWS/*").
type Selector struct {
	threatType      string
	platformType    string
	threatEntryType string
}

// ParseSelector parses a "TYPE/PLATFORM/ENTRY" selector string. Any
// component may be "*". Returns a Malformed error on a selector without
// exactly three slash-separated components.
func ParseSelector(s string) (Selector, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Selector{}, gsberrors.New(gsberrors.Malformed, "selector %q must have exactly 3 components", s)
	}
	return Selector{
		threatType:      strings.ToUpper(parts[0]),
		platformType:    strings.ToUpper(parts[1]),
		threatEntryType: strings.ToUpper(parts[2]),
	}, nil
}

// Matches reports whether id satisfies the selector, treating Wildcard
// components as matching anything.
func (s Selector) Matches(id Id) bool {
	return (s.threatType == Wildcard || s.threatType == id.ThreatType) &&
		(s.platformType == Wildcard || s.platformType == id.PlatformType) &&
		(s.threatEntryType == Wildcard || s.threatEntryType == id.ThreatEntryType)
}

// IsExact reports whether the selector names a single Id with no
// wildcard components.
func (s Selector) IsExact() bool {
	return s.threatType != Wildcard && s.platformType != Wildcard && s.threatEntryType != Wildcard
}

// Id returns the Id an exact selector names. Callers must check IsExact
// first; a wildcarded selector has no single Id.
func (s Selector) Id() Id {
	return Id{ThreatType: s.threatType, PlatformType: s.platformType, ThreatEntryType: s.threatEntryType}
}

// Expand resolves selectors against catalog, the known-list catalog
// fetched from the service's threatLists endpoint. A selector with no
// wildcards is included whether or not it appears in the catalog (the
// caller may be tracking a list the catalog hasn't reported yet); a
// wildcarded selector expands only to catalog entries it matches.
//
// The result is de-duplicated and follows selector order, each wildcarded
// selector's matches appearing in catalog order.
func Expand(selectors []Selector, catalog []Id) []Id {
	seen := make(map[Id]struct{}, len(selectors))
	var out []Id

	add := func(id Id) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, sel := range selectors {
		if sel.IsExact() {
			add(sel.Id())
			continue
		}
		for _, id := range catalog {
			if sel.Matches(id) {
				add(id)
			}
		}
	}
	return out
}

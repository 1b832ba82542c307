package retrieve

import (
	"sort"
	"strings"
)

// Domain names used by the gate. Anything unmatched is DomainGeneral.
const (
	DomainGeneral     = "general"
	DomainCredentials = "credentials"
)

// crossDomainSalience lets a very salient node cross an unrelated domain.
const crossDomainSalience = 0.9

// DomainGate classifies text into coarse domains by keyword lists and
// decides which nodes may surface for a given query domain.
type DomainGate struct {
	names    []string // deterministic iteration order
	keywords map[string][]string
}

// NewDomainGate builds a gate from the configured domain keyword tables.
func NewDomainGate(domains map[string][]string) *DomainGate {
	g := &DomainGate{keywords: domains}
	for name := range domains {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)
	return g
}

// Classify returns the domain with the most keyword hits, or DomainGeneral.
// Ties resolve to the lexically first domain name so results are stable.
func (g *DomainGate) Classify(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := DomainGeneral, 0
	for _, name := range g.names {
		hits := 0
		for _, kw := range g.keywords[name] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = name, hits
		}
	}
	return best
}

// Admit reports whether a node in nodeDomain may surface for a query in
// queryDomain. Credentials never cross-surface; other unrelated domains
// pass only above the salience override.
func (g *DomainGate) Admit(queryDomain, nodeDomain string, salience float64) bool {
	if nodeDomain == DomainCredentials {
		return queryDomain == DomainCredentials
	}
	if nodeDomain == queryDomain || nodeDomain == DomainGeneral || queryDomain == DomainGeneral {
		return true
	}
	return salience >= crossDomainSalience
}

// Package incidents is the Incident Matcher (C13): it parses the
// free-text "routes affected" sentences carried on KB incidents and
// joins them against a journey's operator and leg paths to decide
// which incidents might affect it.
// Grounded on reasoning_engine/incidents.py and delays.py.
package incidents

import (
	"context"
	"strings"

	"railplanner.dev/core/model"
	"railplanner.dev/core/routing"
	"railplanner.dev/core/store"
)

// Matcher resolves incidents against journeys, backed by one Store.
type Matcher struct {
	store store.Store
}

// New returns a Matcher over st.
func New(st store.Store) *Matcher {
	return &Matcher{store: st}
}

// ParseIncidentRoutes implements spec.md §4.13 steps 1-2: it locates the
// first "and" pivot in routeText, truncates anything from the first
// "also" onward, then scans both sides for station names present in
// nameToTIPLOC, returning the TIPLOCs found on each side. The second
// return value is false when routeText has no "and" pivot at all (no
// restriction could be parsed), mirroring incidents.py's None return.
// The match is unspaced, matching incidents.py's route_text.find('and')
// exactly, so a station name containing the substring (e.g.
// "Wandsworth") can trip the pivot early; this is a known heuristic
// carried over from the original rather than hardened here.
// Grounded on incidents.py's parse_incident_routes.
func ParseIncidentRoutes(nameToTIPLOC map[string]string, routeText string) (from, to []string, ok bool) {
	andIndex := strings.Index(routeText, "and")
	if andIndex == -1 {
		return nil, nil, false
	}

	if alsoIndex := strings.Index(routeText, "also"); alsoIndex != -1 {
		routeText = routeText[:alsoIndex]
	}

	for name, tiploc := range nameToTIPLOC {
		index := strings.Index(routeText, name)
		if index == -1 {
			continue
		}
		if index < andIndex {
			from = append(from, tiploc)
		} else {
			to = append(to, tiploc)
		}
	}
	return from, to, true
}

// StripHTML repeatedly removes "<...>" tags until a fixed point is
// reached, mirroring delays.py's strip_html (the original loops because
// a single regex.sub pass can leave behind tags split across nested
// matches in malformed markup).
func StripHTML(html string) string {
	stripped := html
	for {
		next := stripTags(stripped)
		if next == stripped {
			return stripped
		}
		stripped = next
	}
}

func stripTags(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func routeSegmentMatches(nameToTIPLOC map[string]string, path model.TrainPath, routeAffected string) bool {
	from, to, ok := ParseIncidentRoutes(nameToTIPLOC, routeAffected)
	if !ok {
		return false
	}
	return containsAny(path, from) && containsAny(path, to)
}

func containsAny(path model.TrainPath, locations []string) bool {
	for _, loc := range locations {
		for _, p := range path {
			if p == loc {
				return true
			}
		}
	}
	return false
}

// FindIncidents scans every route's legs for operator incidents whose
// parsed route text overlaps that leg's path, de-duplicated by incident
// number. Grounded on incidents.py's find_incidents.
func (m *Matcher) FindIncidents(ctx context.Context, results []routing.RouteAndJourneys) ([]model.Incident, error) {
	nameToTIPLOC, err := m.store.NameToTIPLOCMap(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []model.Incident
	for _, result := range results {
		for _, journey := range result.Journeys {
			if err := m.matchLegs(ctx, nameToTIPLOC, result.Route, journey, seen, &out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (m *Matcher) matchLegs(ctx context.Context, nameToTIPLOC map[string]string, route model.TrainRoute, journey model.Journey, seen map[string]bool, out *[]model.Incident) error {
	n := len(route)
	if len(journey) < n {
		n = len(journey)
	}
	for i := 0; i < n; i++ {
		segment := journey[i]
		if segment.Train == nil {
			continue
		}
		incidentList, err := m.store.IncidentsForTOC(ctx, segment.Train.TOC)
		if err != nil {
			return err
		}
		for _, incident := range incidentList {
			if seen[incident.Number] {
				continue
			}
			if routeSegmentMatches(nameToTIPLOC, route[i].Path, incident.RouteAffectedText) {
				seen[incident.Number] = true
				*out = append(*out, incident)
			}
		}
	}
	return nil
}

// DisplayName resolves a TIPLOC back to its station's display name, for
// rendering journey/incident results. Grounded on delays.py's
// tiploc_to_name (a Station ⋈ TIPLOC join), built here by inverting the
// same name→TIPLOC map ParseIncidentRoutes consumes rather than adding a
// second query path to Store.
func (m *Matcher) DisplayName(ctx context.Context, tiploc string) (string, bool, error) {
	nameToTIPLOC, err := m.store.NameToTIPLOCMap(ctx)
	if err != nil {
		return "", false, err
	}
	for name, t := range nameToTIPLOC {
		if t == tiploc {
			return name, true, nil
		}
	}
	return "", false, nil
}

// JourneyIncident pairs one concrete Journey with an Incident that may
// affect it, mirroring delays.py's find_delays result tuples.
type JourneyIncident struct {
	Journey  model.Journey
	Incident model.Incident
}

// FindDelays is FindIncidents at per-journey granularity: instead of a
// flat de-duplicated incident list, it returns every (journey, incident)
// pair found, de-duplicated by (incident number, journey). Grounded on
// delays.py's find_delays.
func (m *Matcher) FindDelays(ctx context.Context, results []routing.RouteAndJourneys) ([]JourneyIncident, error) {
	nameToTIPLOC, err := m.store.NameToTIPLOCMap(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []JourneyIncident
	for _, result := range results {
		for _, journey := range result.Journeys {
			n := len(result.Route)
			if len(journey) < n {
				n = len(journey)
			}
			for i := 0; i < n; i++ {
				segment := journey[i]
				if segment.Train == nil {
					continue
				}
				incidentList, err := m.store.IncidentsForTOC(ctx, segment.Train.TOC)
				if err != nil {
					return nil, err
				}
				for _, incident := range incidentList {
					if !routeSegmentMatches(nameToTIPLOC, result.Route[i].Path, incident.RouteAffectedText) {
						continue
					}
					key := incident.Number + "|" + journeyKey(journey)
					if seen[key] {
						continue
					}
					seen[key] = true
					out = append(out, JourneyIncident{Journey: journey, Incident: incident})
				}
			}
		}
	}
	return out, nil
}

func journeyKey(journey model.Journey) string {
	var b strings.Builder
	for _, seg := range journey {
		if seg.Train != nil {
			b.WriteString(seg.Train.TrainUID)
		}
		b.WriteByte('|')
	}
	return b.String()
}

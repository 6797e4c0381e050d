// Package routing is the Path Search (C9), Journey Assembler (C10) and
// Journey Filter (C11) engines, grounded on
// reasoning_engine/routeing.py. It turns the TimetableLink adjacency
// graph and a day's TimetableLocation rows into ranked, connection-aware
// journeys between two stations.
package routing

import (
	"context"

	"railplanner.dev/core/store"
)

const (
	maxSearchDepth = 400
)

// Path is a forest of location sequences sharing a common trunk,
// mirroring routeing.py's Path class. Two walks that meet at the same
// node in the same BFS layer merge into sibling sub-paths instead of
// being enumerated separately, keeping the search polynomial instead of
// exponential while still preserving every alternative route.
type Path struct {
	stations []string
	subPaths []*Path

	locations        map[string]bool
	subPathLocations []map[string]bool
}

// newPath returns an empty path, the Go analogue of Path().
func newPath() *Path {
	return &Path{locations: map[string]bool{}}
}

// clone deep-copies a Path's own slices/map (but not sub-path contents,
// mirroring Python's shallow copy.copy of the parent's fields).
func (p *Path) clone() *Path {
	cp := &Path{
		stations:         append([]string(nil), p.stations...),
		subPaths:         append([]*Path(nil), p.subPaths...),
		locations:        map[string]bool{},
		subPathLocations: append([]map[string]bool(nil), p.subPathLocations...),
	}
	for k, v := range p.locations {
		cp.locations[k] = v
	}
	return cp
}

// extend returns a new Path with fromLocation prepended to the trunk.
func (p *Path) extend(fromLocation string) *Path {
	np := p.clone()
	np.stations = append([]string{fromLocation}, np.stations...)
	np.locations[fromLocation] = true
	return np
}

// merge flattens p and other into one Path, the Go analogue of
// Path.merge: each side becomes a sub-path (or, if it has no trunk of
// its own yet, contributes its sub-paths directly), avoiding pointless
// nesting of empty trunks.
func (p *Path) merge(other *Path) *Path {
	np := newPath()
	for _, side := range []*Path{p, other} {
		np.subPathLocations = append(np.subPathLocations, side.locations)
		np.subPathLocations = append(np.subPathLocations, side.subPathLocations...)
		if len(side.stations) == 0 {
			np.subPaths = append(np.subPaths, side.subPaths...)
		} else {
			np.subPaths = append(np.subPaths, side)
		}
	}
	return np
}

// hasBeenTo reports whether location appears anywhere in this path's
// trunk or any merged sub-path, preventing cycles.
func (p *Path) hasBeenTo(location string) bool {
	if p.locations[location] {
		return true
	}
	for _, set := range p.subPathLocations {
		if set[location] {
			return true
		}
	}
	return false
}

// possiblePathsCount is the number of distinct origin-to-destination
// routes this Path can be flattened into.
func (p *Path) possiblePathsCount() int {
	count := 1
	for _, sub := range p.subPaths {
		count += sub.possiblePathsCount()
	}
	return count
}

// AllLocations returns every location visited anywhere in this Path's
// trunk or sub-paths.
func (p *Path) AllLocations() map[string]bool {
	out := map[string]bool{}
	for k := range p.locations {
		out[k] = true
	}
	for _, set := range p.subPathLocations {
		for k := range set {
			out[k] = true
		}
	}
	return out
}

// Routes flattens this Path into every ordered location sequence it
// represents, origin first.
func (p *Path) Routes() [][]string {
	// extend prepends, so the trunk holds the latest stop first; reversed
	// it is the tail of every route that runs through its sub-paths.
	trunk := make([]string, len(p.stations))
	for i, loc := range p.stations {
		trunk[len(p.stations)-1-i] = loc
	}
	if len(p.subPaths) == 0 {
		return [][]string{trunk}
	}

	var out [][]string
	for _, sub := range p.subPaths {
		for _, subRoute := range sub.Routes() {
			route := append(append([]string(nil), subRoute...), trunk...)
			out = append(out, route)
		}
	}
	return out
}

// SearchPaths performs the layered BFS over TimetableLink described in
// spec §4.9: it walks outward from fromLoc one hop at a time, merging
// walks that converge on the same node within a layer, until at least n
// distinct routes to toLoc have been found or depth exceeds
// maxSearchDepth. Grounded on routeing.py's search_paths.
func SearchPaths(ctx context.Context, st store.Store, n int, fromLoc, toLoc string) ([]*Path, error) {
	var found []*Path
	foundCount := 0

	paths := map[string]*Path{fromLoc: newPath()}

	for depth := 0; foundCount < n && depth < maxSearchDepth; depth++ {
		from := make([]string, 0, len(paths))
		for loc := range paths {
			from = append(from, loc)
		}

		links, err := st.LinksFrom(ctx, from)
		if err != nil {
			return nil, err
		}

		next := map[string]*Path{}
		for _, link := range links {
			path, ok := paths[link.FromLocation]
			if !ok || path.hasBeenTo(link.ToLocation) {
				continue
			}

			newP := path.extend(link.FromLocation)
			if existing, ok := next[link.ToLocation]; ok {
				newP = newP.merge(existing)
			}
			next[link.ToLocation] = newP
		}
		paths = next

		if path, ok := paths[toLoc]; ok {
			complete := path.extend(toLoc)
			foundCount += complete.possiblePathsCount()
			found = append(found, complete)
			delete(paths, toLoc)
		}
	}

	return found, nil
}

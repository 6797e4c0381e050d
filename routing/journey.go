package routing

import (
	"context"
	"math"
	"time"

	"railplanner.dev/core/internal/group"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

const maxTrainRouteChanges = 3

// TrainStopsForPaths fetches every TimetableLocation that could form part
// of any route flattened from paths, on the given date, grounded on
// routeing.py's train_stops_from_paths/train_stops_in_route.
func TrainStopsForPaths(ctx context.Context, st store.Store, date time.Time, paths []*Path) ([]model.TimetableLocation, error) {
	all := map[string]bool{}
	for _, p := range paths {
		for loc := range p.AllLocations() {
			all[loc] = true
		}
	}

	var out []model.TimetableLocation
	for loc := range all {
		stops, err := st.TimetableLocationsAt(ctx, loc, date)
		if err != nil {
			return nil, err
		}
		out = append(out, stops...)
	}
	return out, nil
}

// sortTrainsByUID groups stops by train_uid, re-sorting each group so it
// is simultaneously increasing in TrainRouteIndex and in position within
// route, dropping services that retain fewer than two stops after
// sorting. Grounded on routeing.py's sort_trains_by_uid.
func sortTrainsByUID(stops []model.TimetableLocation, route []string) map[string][]model.TimetableLocation {
	indexOf := map[string]int{}
	for i, loc := range route {
		indexOf[loc] = i
	}

	byUID := map[string][]model.TimetableLocation{}
	for _, stop := range stops {
		train, ok := byUID[stop.TrainUID]
		if !ok {
			byUID[stop.TrainUID] = []model.TimetableLocation{stop}
			continue
		}

		last := train[len(train)-1]
		routeIdx, lastRouteIdx := indexOf[stop.Location], indexOf[last.Location]

		if stop.TrainRouteIndex > last.TrainRouteIndex && routeIdx > lastRouteIdx {
			byUID[stop.TrainUID] = append(train, stop)
			continue
		}

		lastStopRouteIndex := math.MinInt
		for i, next := range train {
			if stop.TrainRouteIndex < next.TrainRouteIndex &&
				stop.TrainRouteIndex > lastStopRouteIndex &&
				routeIdx < indexOf[next.Location] {
				train = append(train[:i], append([]model.TimetableLocation{stop}, train[i:]...)...)
				byUID[stop.TrainUID] = train
				break
			}
			lastStopRouteIndex = next.TrainRouteIndex
		}
	}

	out := map[string][]model.TimetableLocation{}
	for uid, stops := range byUID {
		if len(stops) > 1 {
			out[uid] = stops
		}
	}
	return out
}

// trainsByPath buckets each train's stop sequence under its TrainPath
// key, returning both the grouping and the ordered list of distinct
// paths found (for DFS over candidate segments). Grounded on
// knowledge_base/__init__.py's group() (sort-then-groupby), shared here
// via internal/group rather than hand-rolled again.
func trainsByPath(stopsByUID map[string][]model.TimetableLocation) (map[string][][]model.TimetableLocation, []model.TrainPath) {
	var stops [][]model.TimetableLocation
	for _, s := range stopsByUID {
		stops = append(stops, s)
	}

	keyOf := func(stops []model.TimetableLocation) string {
		path := make(model.TrainPath, len(stops))
		for i, s := range stops {
			path[i] = s.Location
		}
		return path.Key()
	}

	grouped, keyOrder := group.ByOrdered(stops, keyOf, func(a, b string) bool { return a < b })

	order := make([]model.TrainPath, 0, len(keyOrder))
	for _, key := range keyOrder {
		train := grouped[key][0]
		path := make(model.TrainPath, len(train))
		for i, s := range train {
			path[i] = s.Location
		}
		order = append(order, path)
	}
	return grouped, order
}

// searchTrainRoute performs the depth-limited DFS over candidate
// TrainPaths described in spec §4.10 step 4, walking route backward from
// its destination (route[len(route)-1]) towards its origin (route[0])
// with at most maxTrainRouteChanges connections, then reverses the
// discovered chain into origin-to-destination order so each returned
// segment's StartLoc is the earlier stop and StopLoc the later one.
// Grounded on routeing.py's search_train_route/search_location -
// the recursion direction is the original's, the final reversal is not:
// the original returns segments destination-first with Start/Stop swapped,
// which left Journey.DepartureTime/ArrivalTime reading the wrong field.
func searchTrainRoute(start string, trainPaths []model.TrainPath, route []string) model.TrainRoute {
	backward := searchTrainRouteBackward(start, trainPaths, route, nil)
	if backward == nil {
		return nil
	}

	forward := make(model.TrainRoute, len(backward))
	for i, seg := range backward {
		forward[len(backward)-1-i] = model.TrainRouteSegment{
			Path: seg.Path, StartLoc: seg.StopLoc, StopLoc: seg.StartLoc,
		}
	}
	return forward
}

func searchTrainRouteBackward(start string, trainPaths []model.TrainPath, route []string, trainRoute model.TrainRoute) model.TrainRoute {
	if len(trainRoute) > maxTrainRouteChanges {
		return nil
	}

	indexOf := map[string]int{}
	for i, loc := range route {
		indexOf[loc] = i
	}

	for _, path := range trainPaths {
		if !pathContains(path, start) {
			continue
		}

		endLocation := route[0]
		if pathContains(path, endLocation) {
			return append(append(model.TrainRoute(nil), trainRoute...),
				model.TrainRouteSegment{Path: path, StartLoc: start, StopLoc: endLocation})
		}

		for _, stop := range path {
			if indexOf[stop] >= indexOf[start] {
				continue
			}

			result := searchTrainRouteBackward(stop, trainPaths, route,
				append(append(model.TrainRoute(nil), trainRoute...),
					model.TrainRouteSegment{Path: path, StartLoc: start, StopLoc: stop}))
			if result != nil {
				return result
			}
		}
	}
	return nil
}

func pathContains(path model.TrainPath, loc string) bool {
	for _, l := range path {
		if l == loc {
			return true
		}
	}
	return false
}

// findJourneys instantiates concrete Journeys for a discovered
// TrainRoute, choosing the earliest valid connecting service at each
// change. Grounded on routeing.py's find_journeys.
func findJourneys(ctx context.Context, st store.Store, date time.Time, trainsByPath map[string][][]model.TimetableLocation, trainRoute model.TrainRoute) ([]model.Journey, error) {
	startTrains := trainsByPath[trainRoute[0].Path.Key()]

	var journeys []model.Journey
	for _, startTrain := range startTrains {
		firstStart, ok := findStop(startTrain, trainRoute[0].StartLoc)
		if !ok {
			continue
		}
		firstStop, ok := findStop(startTrain, trainRoute[0].StopLoc)
		if !ok {
			continue
		}

		timetable, found, err := st.TrainTimetable(ctx, firstStart.TrainUID, date)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		journey := model.Journey{{Train: timetable, Start: firstStart, End: firstStop}}

		complete := true
		for _, segment := range trainRoute[1:] {
			last := journey[len(journey)-1]

			var bestStart, bestStop model.TimetableLocation
			var bestTrain []model.TimetableLocation
			found := false
			for _, train := range trainsByPath[segment.Path.Key()] {
				for _, stop := range train {
					if stop.Location != last.End.Location {
						continue
					}
					if stop.ScheduledDepartureTime <= last.End.ScheduledArrivalTime {
						continue
					}
					if !found || stop.ScheduledDepartureTime < bestStart.ScheduledDepartureTime {
						bestStart, bestTrain, found = stop, train, true
					}
				}
			}
			if !found {
				complete = false
				break
			}

			stop, ok := findStop(bestTrain, segment.StopLoc)
			if !ok {
				complete = false
				break
			}
			bestStop = stop

			connTimetable, found, err := st.TrainTimetable(ctx, bestStart.TrainUID, date)
			if err != nil {
				return nil, err
			}
			if !found {
				complete = false
				break
			}

			journey = append(journey, model.JourneySegment{Train: connTimetable, Start: bestStart, End: bestStop})
		}

		if complete {
			journeys = append(journeys, journey)
		}
	}
	return journeys, nil
}

func findStop(stops []model.TimetableLocation, location string) (model.TimetableLocation, bool) {
	for _, s := range stops {
		if s.Location == location {
			return s, true
		}
	}
	return model.TimetableLocation{}, false
}

// RouteAndJourneys pairs a discovered TrainRoute with the concrete
// Journeys that realize it, mirroring routeing.py's RouteAndJourneys.
type RouteAndJourneys struct {
	Route    model.TrainRoute
	Journeys []model.Journey
}

// FindJourneysForRoute assembles a TrainRoute for one candidate location
// route and the concrete Journeys that realize it, or returns ok=false
// if no TrainRoute connects the route's endpoints within the change
// budget.
func FindJourneysForRoute(ctx context.Context, st store.Store, date time.Time, route []string, allStops []model.TimetableLocation) (RouteAndJourneys, bool, error) {
	var relevant []model.TimetableLocation
	routeSet := map[string]bool{}
	for _, loc := range route {
		routeSet[loc] = true
	}
	for _, stop := range allStops {
		if routeSet[stop.Location] {
			relevant = append(relevant, stop)
		}
	}

	stopsByUID := sortTrainsByUID(relevant, route)
	byPath, paths := trainsByPath(stopsByUID)

	startLocation := route[len(route)-1]
	trainRoute := searchTrainRoute(startLocation, paths, route)
	if trainRoute == nil {
		return RouteAndJourneys{}, false, nil
	}

	journeys, err := findJourneys(ctx, st, date, byPath, trainRoute)
	if err != nil {
		return RouteAndJourneys{}, false, err
	}
	return RouteAndJourneys{Route: trainRoute, Journeys: journeys}, true, nil
}

// FindJourneysForPaths flattens every Path into its candidate routes and
// assembles journeys for each, grounded on routeing.py's
// find_journeys_for_paths.
func FindJourneysForPaths(ctx context.Context, st store.Store, date time.Time, paths []*Path) ([]RouteAndJourneys, error) {
	allStops, err := TrainStopsForPaths(ctx, st, date, paths)
	if err != nil {
		return nil, err
	}

	var out []RouteAndJourneys
	for _, p := range paths {
		for _, route := range p.Routes() {
			result, ok, err := FindJourneysForRoute(ctx, st, date, route, allStops)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, result)
			}
		}
	}
	return out, nil
}

// FindJourneysFromCRS resolves two CRS codes to TIPLOCs, searches for
// candidate routes between them and assembles journeys running on date.
// Grounded on routeing.py's find_journeys_from_crs.
func FindJourneysFromCRS(ctx context.Context, st store.Store, fromCRS, toCRS string, date time.Time) ([]RouteAndJourneys, error) {
	tiplocs, err := st.TIPLOCForCRS(ctx, []string{fromCRS, toCRS})
	if err != nil {
		return nil, err
	}
	fromLoc, ok := tiplocs[fromCRS]
	if !ok {
		return nil, nil
	}
	toLoc, ok := tiplocs[toCRS]
	if !ok {
		return nil, nil
	}

	paths, err := SearchPaths(ctx, st, 4, fromLoc, toLoc)
	if err != nil {
		return nil, err
	}
	return FindJourneysForPaths(ctx, st, date, paths)
}

package routing

import (
	"sort"

	"railplanner.dev/core/internal/group"
	"railplanner.dev/core/model"
)

// routeJourney pairs one Journey with the TrainRoute it realizes, the Go
// analogue of routeing.py's (route, journey) tuples.
type routeJourney struct {
	route   model.TrainRoute
	journey model.Journey
}

func routeKey(route model.TrainRoute) string {
	key := ""
	for i, seg := range route {
		if i > 0 {
			key += "|"
		}
		key += seg.Path.Key() + ":" + seg.StartLoc + ">" + seg.StopLoc
	}
	return key
}

// FilterBestJourneys keeps, for each distinct arrival time across all
// candidate routes, only the journey with the latest (tightest)
// departure time, then regroups the survivors by their TrainRoute.
// Grounded on routeing.py's filter_best_journeys.
func FilterBestJourneys(candidates []RouteAndJourneys) []RouteAndJourneys {
	var all []routeJourney
	for _, c := range candidates {
		for _, j := range c.Journeys {
			all = append(all, routeJourney{route: c.Route, journey: j})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].journey.ArrivalTime() < all[j].journey.ArrivalTime()
	})

	byArrival := map[int]routeJourney{}
	var arrivalOrder []int
	for _, rj := range all {
		arrival := rj.journey.ArrivalTime()
		best, ok := byArrival[arrival]
		if !ok {
			arrivalOrder = append(arrivalOrder, arrival)
			byArrival[arrival] = rj
			continue
		}
		if rj.journey.DepartureTime() > best.journey.DepartureTime() {
			byArrival[arrival] = rj
		}
	}

	survivors := make([]routeJourney, 0, len(arrivalOrder))
	for _, arrival := range arrivalOrder {
		survivors = append(survivors, byArrival[arrival])
	}

	byRoute, order := group.ByOrdered(survivors,
		func(rj routeJourney) string { return routeKey(rj.route) },
		func(a, b string) bool { return a < b })

	out := make([]RouteAndJourneys, 0, len(order))
	for _, key := range order {
		rjs := byRoute[key]
		raj := RouteAndJourneys{Route: rjs[0].route}
		for _, rj := range rjs {
			raj.Journeys = append(raj.Journeys, rj.journey)
		}
		out = append(out, raj)
	}
	return out
}

// journeySortKey returns arrival time unless the journey wraps past
// midnight (arrival < departure), in which case it sorts by departure
// instead — the caller-side tiebreak spec §4.11 describes for display
// ordering.
func journeySortKey(j model.Journey) int {
	arrival, departure := j.ArrivalTime(), j.DepartureTime()
	if arrival < departure {
		return departure
	}
	return arrival
}

// RankJourneys drops journeys departing before earliestDeparture, sorts
// the rest by journeySortKey, and returns at most limit — the
// caller-facing shaping step spec §4.11 describes on top of
// FilterBestJourneys's route grouping.
func RankJourneys(journeys []model.Journey, earliestDeparture, limit int) []model.Journey {
	var kept []model.Journey
	for _, j := range journeys {
		if j.DepartureTime() < earliestDeparture {
			continue
		}
		kept = append(kept, j)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return journeySortKey(kept[i]) < journeySortKey(kept[j])
	})

	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

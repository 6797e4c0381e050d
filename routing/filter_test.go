package routing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/model"
	"railplanner.dev/core/routing"
)

func stop(loc string, arr, dep int) model.TimetableLocation {
	return model.TimetableLocation{Location: loc, ScheduledArrivalTime: arr, ScheduledDepartureTime: dep}
}

func TestFilterBestJourneysKeepsTightestDepartureForEachArrival(t *testing.T) {
	routeA := model.TrainRoute{{Path: model.TrainPath{"A", "B"}, StartLoc: "A", StopLoc: "B"}}
	routeB := model.TrainRoute{{Path: model.TrainPath{"A", "C", "B"}, StartLoc: "A", StopLoc: "B"}}

	early := model.Journey{{Start: stop("A", 0, 900), End: stop("B", 1100, 0)}}
	late := model.Journey{{Start: stop("A", 0, 1000), End: stop("B", 1100, 0)}}

	candidates := []routing.RouteAndJourneys{
		{Route: routeA, Journeys: []model.Journey{early}},
		{Route: routeB, Journeys: []model.Journey{late}},
	}

	out := routing.FilterBestJourneys(candidates)

	var all []model.Journey
	for _, c := range out {
		all = append(all, c.Journeys...)
	}
	require.Len(t, all, 1)
	require.Equal(t, 1000, all[0].DepartureTime())
}

func TestFilterBestJourneysGroupsSurvivorsByRoute(t *testing.T) {
	routeA := model.TrainRoute{{Path: model.TrainPath{"A", "B"}, StartLoc: "A", StopLoc: "B"}}

	j1 := model.Journey{{Start: stop("A", 0, 900), End: stop("B", 1000, 0)}}
	j2 := model.Journey{{Start: stop("A", 0, 1000), End: stop("B", 1100, 0)}}

	candidates := []routing.RouteAndJourneys{
		{Route: routeA, Journeys: []model.Journey{j1, j2}},
	}

	out := routing.FilterBestJourneys(candidates)
	require.Len(t, out, 1)
	require.Len(t, out[0].Journeys, 2)
}

func TestRankJourneysDropsEarlyDeparturesAndRespectsLimit(t *testing.T) {
	journeys := []model.Journey{
		{{Start: stop("A", 0, 800), End: stop("B", 900, 0)}},
		{{Start: stop("A", 0, 1000), End: stop("B", 1100, 0)}},
		{{Start: stop("A", 0, 1200), End: stop("B", 1300, 0)}},
	}

	ranked := routing.RankJourneys(journeys, 900, 1)
	require.Len(t, ranked, 1)
	require.Equal(t, 1100, ranked[0].ArrivalTime())
}

func TestRankJourneysSortsWraparoundJourneysByDeparture(t *testing.T) {
	// A journey arriving at 0005 (past midnight) should sort by its
	// departure time, not its small arrival time, so it doesn't jump to
	// the front ahead of same-evening journeys.
	wraparound := model.Journey{{Start: stop("A", 0, 2330), End: stop("B", 5, 0)}}
	evening := model.Journey{{Start: stop("A", 0, 2100), End: stop("B", 2200, 0)}}

	ranked := routing.RankJourneys([]model.Journey{wraparound, evening}, 0, 0)
	require.Len(t, ranked, 2)
	require.Equal(t, 2100, ranked[0].DepartureTime())
	require.Equal(t, 2330, ranked[1].DepartureTime())
}

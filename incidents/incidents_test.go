package incidents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/incidents"
	"railplanner.dev/core/model"
	"railplanner.dev/core/routing"
	"railplanner.dev/core/store"
)

func seedStations(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	require.NoError(t, st.InsertTIPLOCs(context.Background(), []model.TIPLOC{
		{TiplocCode: "EUSTON", CRSCode: "EUS"},
		{TiplocCode: "BHAMNS", CRSCode: "BHM"},
	}))
	require.NoError(t, st.InsertStations(context.Background(), []model.Station{
		{CRS: "EUS", Name: "London Euston"},
		{CRS: "BHM", Name: "Birmingham New Street"},
	}))
}

func TestParseIncidentRoutesSplitsOnTheFirstAndPivot(t *testing.T) {
	nameToTIPLOC := map[string]string{
		"London Euston":         "EUSTON",
		"Birmingham New Street": "BHAMNS",
	}

	from, to, ok := incidents.ParseIncidentRoutes(nameToTIPLOC, "London Euston and Birmingham New Street")
	require.True(t, ok)
	require.Equal(t, []string{"EUSTON"}, from)
	require.Equal(t, []string{"BHAMNS"}, to)
}

func TestParseIncidentRoutesIgnoresTextAfterAlso(t *testing.T) {
	nameToTIPLOC := map[string]string{
		"London Euston":         "EUSTON",
		"Birmingham New Street": "BHAMNS",
	}

	// "also" truncates the tail, so Birmingham New Street (which only
	// appears after "also") must not surface as a "to" location.
	from, to, ok := incidents.ParseIncidentRoutes(nameToTIPLOC, "London Euston and delays also Birmingham New Street affected")
	require.True(t, ok)
	require.Equal(t, []string{"EUSTON"}, from)
	require.Empty(t, to)
}

func TestParseIncidentRoutesReturnsNotOKWithNoAndPivot(t *testing.T) {
	_, _, ok := incidents.ParseIncidentRoutes(map[string]string{"London Euston": "EUSTON"}, "London Euston disruption")
	require.False(t, ok)
}

func TestStripHTMLRemovesTags(t *testing.T) {
	require.Equal(t, "Service delayed", incidents.StripHTML("<p>Service <b>delayed</b></p>"))
}

func TestFindIncidentsMatchesOperatorAndLegPath(t *testing.T) {
	st := store.NewMemoryStore()
	seedStations(t, st)
	require.NoError(t, st.InsertIncidents(context.Background(), []model.Incident{
		{Number: "INC1", CreationTime: time.Now(), RouteAffectedText: "London Euston and Birmingham New Street"},
	}))
	require.NoError(t, st.InsertIncidentAffectedOperators(context.Background(), []model.IncidentAffectedOperator{
		{IncidentNumber: "INC1", TOC: "LM", OperatorName: "London Midland"},
	}))

	route := model.TrainRoute{{Path: model.TrainPath{"EUSTON", "BHAMNS"}, StartLoc: "EUSTON", StopLoc: "BHAMNS"}}
	journey := model.Journey{{
		Train: &model.TrainTimetable{TrainUID: "T1", TOC: "LM"},
		Start: model.TimetableLocation{Location: "EUSTON"},
		End:   model.TimetableLocation{Location: "BHAMNS"},
	}}

	m := incidents.New(st)
	found, err := m.FindIncidents(context.Background(), []routing.RouteAndJourneys{
		{Route: route, Journeys: []model.Journey{journey}},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "INC1", found[0].Number)
}

func TestFindIncidentsIgnoresIncidentsForOtherOperators(t *testing.T) {
	st := store.NewMemoryStore()
	seedStations(t, st)
	require.NoError(t, st.InsertIncidents(context.Background(), []model.Incident{
		{Number: "INC1", CreationTime: time.Now(), RouteAffectedText: "London Euston and Birmingham New Street"},
	}))
	require.NoError(t, st.InsertIncidentAffectedOperators(context.Background(), []model.IncidentAffectedOperator{
		{IncidentNumber: "INC1", TOC: "XC", OperatorName: "CrossCountry"},
	}))

	route := model.TrainRoute{{Path: model.TrainPath{"EUSTON", "BHAMNS"}, StartLoc: "EUSTON", StopLoc: "BHAMNS"}}
	journey := model.Journey{{
		Train: &model.TrainTimetable{TrainUID: "T1", TOC: "LM"},
		Start: model.TimetableLocation{Location: "EUSTON"},
		End:   model.TimetableLocation{Location: "BHAMNS"},
	}}

	m := incidents.New(st)
	found, err := m.FindIncidents(context.Background(), []routing.RouteAndJourneys{
		{Route: route, Journeys: []model.Journey{journey}},
	})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestFindIncidentsDeduplicatesByIncidentNumber(t *testing.T) {
	st := store.NewMemoryStore()
	seedStations(t, st)
	require.NoError(t, st.InsertIncidents(context.Background(), []model.Incident{
		{Number: "INC1", CreationTime: time.Now(), RouteAffectedText: "London Euston and Birmingham New Street"},
	}))
	require.NoError(t, st.InsertIncidentAffectedOperators(context.Background(), []model.IncidentAffectedOperator{
		{IncidentNumber: "INC1", TOC: "LM", OperatorName: "London Midland"},
	}))

	route := model.TrainRoute{{Path: model.TrainPath{"EUSTON", "BHAMNS"}, StartLoc: "EUSTON", StopLoc: "BHAMNS"}}
	journey := model.Journey{{
		Train: &model.TrainTimetable{TrainUID: "T1", TOC: "LM"},
		Start: model.TimetableLocation{Location: "EUSTON"},
		End:   model.TimetableLocation{Location: "BHAMNS"},
	}}

	m := incidents.New(st)
	found, err := m.FindIncidents(context.Background(), []routing.RouteAndJourneys{
		{Route: route, Journeys: []model.Journey{journey, journey}},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestDisplayNameResolvesATIPLOCBackToItsStationName(t *testing.T) {
	st := store.NewMemoryStore()
	seedStations(t, st)

	m := incidents.New(st)
	name, ok, err := m.DisplayName(context.Background(), "EUSTON")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "London Euston", name)
}

func TestDisplayNameReturnsNotOKForAnUnknownTIPLOC(t *testing.T) {
	st := store.NewMemoryStore()
	seedStations(t, st)

	m := incidents.New(st)
	_, ok, err := m.DisplayName(context.Background(), "NOWHERE")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindDelaysPairsEachJourneyWithItsMatchingIncident(t *testing.T) {
	st := store.NewMemoryStore()
	seedStations(t, st)
	require.NoError(t, st.InsertIncidents(context.Background(), []model.Incident{
		{Number: "INC1", CreationTime: time.Now(), RouteAffectedText: "London Euston and Birmingham New Street"},
	}))
	require.NoError(t, st.InsertIncidentAffectedOperators(context.Background(), []model.IncidentAffectedOperator{
		{IncidentNumber: "INC1", TOC: "LM", OperatorName: "London Midland"},
	}))

	route := model.TrainRoute{{Path: model.TrainPath{"EUSTON", "BHAMNS"}, StartLoc: "EUSTON", StopLoc: "BHAMNS"}}
	journey1 := model.Journey{{Train: &model.TrainTimetable{TrainUID: "T1", TOC: "LM"}, Start: model.TimetableLocation{Location: "EUSTON"}, End: model.TimetableLocation{Location: "BHAMNS"}}}
	journey2 := model.Journey{{Train: &model.TrainTimetable{TrainUID: "T2", TOC: "LM"}, Start: model.TimetableLocation{Location: "EUSTON"}, End: model.TimetableLocation{Location: "BHAMNS"}}}

	m := incidents.New(st)
	found, err := m.FindDelays(context.Background(), []routing.RouteAndJourneys{
		{Route: route, Journeys: []model.Journey{journey1, journey2}},
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
}

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

// StoreBuilder lets the same test body run against every Store backend,
// matching storage_test.go's StorageBuilder pattern in the teacher.
type StoreBuilder func() (store.Store, error)

func builders() map[string]StoreBuilder {
	return map[string]StoreBuilder{
		"memory": func() (store.Store, error) { return store.NewMemoryStore(), nil },
		"sqlite": func() (store.Store, error) { return store.NewSQLiteStore() },
	}
}

func TestExpiryRoundTrip(t *testing.T) {
	for name, build := range builders() {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			s, err := build()
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			_, found, err := s.GetExpiry(ctx, "https://example.test/feed")
			require.NoError(t, err)
			require.False(t, found)

			expiry := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, s.SetExpiry(ctx, "https://example.test/feed", expiry))

			got, found, err := s.GetExpiry(ctx, "https://example.test/feed")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, expiry.Unix(), got.ExpiryTimestamp)
		})
	}
}

func TestTimetableLinksFollowTrainRoute(t *testing.T) {
	for name, build := range builders() {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			s, err := build()
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.BeginTimetableLocations(ctx))
			require.NoError(t, s.InsertTimetableLocations(ctx, []model.TimetableLocation{
				{TrainUID: "T1", TrainRouteIndex: 0, Location: "PADTON"},
				{TrainUID: "T1", TrainRouteIndex: 1, Location: "RDNGST"},
				{TrainUID: "T1", TrainRouteIndex: 2, Location: "BRSTTM"},
			}))
			require.NoError(t, s.EndTimetableLocations(ctx))
			require.NoError(t, s.GenerateTimetableLinks(ctx))

			links, err := s.LinksFrom(ctx, []string{"PADTON"})
			require.NoError(t, err)
			require.Len(t, links, 1)
			require.Equal(t, "RDNGST", links[0].ToLocation)

			links, err = s.LinksFrom(ctx, []string{"BRSTTM"})
			require.NoError(t, err)
			require.Empty(t, links, "terminating location has no outbound link")
		})
	}
}

func TestTrainTimetableRunsOnDateRange(t *testing.T) {
	for name, build := range builders() {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			s, err := build()
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.BeginTrainTimetables(ctx))
			require.NoError(t, s.InsertTrainTimetables(ctx, []model.TrainTimetable{
				{
					TrainUID: "W12345", DateRunsFrom: 20260101, DateRunsTo: 20261231,
					Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
				},
			}))
			require.NoError(t, s.EndTrainTimetables(ctx))

			monday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
			require.Equal(t, time.Monday, monday.Weekday())
			tt, found, err := s.TrainTimetable(ctx, "W12345", monday)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "W12345", tt.TrainUID)

			_, found, err = s.TrainTimetable(ctx, "W12345", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			require.False(t, found, "outside date_runs_from/date_runs_to window")
		})
	}
}

func TestResolveClustersFallsBackToOwnNLC(t *testing.T) {
	for name, build := range builders() {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			s, err := build()
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.InsertLocationRecords(ctx, []model.LocationRecord{
				{CRS: "PAD", NLC: "5727"},
				{CRS: "ZFD", NLC: "9100"},
			}))
			require.NoError(t, s.InsertStationClusters(ctx, []model.StationCluster{
				{ClusterID: "ZFD", LocationNLC: "9100"},
			}))

			clusters, err := s.ResolveClusters(ctx, []string{"PAD", "ZFD"})
			require.NoError(t, err)
			require.Len(t, clusters, 2)

			byCRS := map[string]store.ClusterSet{}
			for _, c := range clusters {
				byCRS[c.CRS] = c
			}
			require.Equal(t, []string{"5727"}, byCRS["PAD"].Clusters, "station in no cluster resolves to its own NLC")
			require.Equal(t, []string{"ZFD"}, byCRS["ZFD"].Clusters)
		})
	}
}

func TestDirectFareRequiresMatchingFlow(t *testing.T) {
	for name, build := range builders() {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			s, err := build()
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.InsertFlowRecords(ctx, []model.FlowRecord{
				{FlowID: 1, OriginNLC: "5727", DestNLC: "5678", Direction: model.DirectionSingle, TOC: "GW", StartDate: 20260101, EndDate: 20261231},
			}))
			require.NoError(t, s.InsertTicketTypes(ctx, []model.TicketType{
				{TicketCode: "SDS", TktGroup: "S", TktType: "S"},
			}))
			require.NoError(t, s.InsertFareRecords(ctx, []model.FareRecord{
				{FlowID: 1, TicketCode: "SDS", FarePence: 1250},
			}))

			at := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
			tickets, err := s.DirectFares(ctx, []string{"5727"}, []string{"5678"}, "", at)
			require.NoError(t, err)
			require.Len(t, tickets, 1)
			require.Equal(t, 1250, tickets[0].FarePence)

			tickets, err = s.DirectFares(ctx, []string{"5727"}, []string{"9999"}, "", at)
			require.NoError(t, err)
			require.Empty(t, tickets)
		})
	}
}

func TestIncidentsForTOCDedupesAcrossOperatorJoins(t *testing.T) {
	for name, build := range builders() {
		name, build := name, build
		t.Run(name, func(t *testing.T) {
			s, err := build()
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.InsertIncidents(ctx, []model.Incident{
				{Number: "INC1", CreationTime: time.Now().UTC().Truncate(time.Second), Summary: "signal fault"},
			}))
			require.NoError(t, s.InsertIncidentAffectedOperators(ctx, []model.IncidentAffectedOperator{
				{IncidentNumber: "INC1", TOC: "GW", OperatorName: "Great Western Railway"},
			}))

			incidents, err := s.IncidentsForTOC(ctx, "GW")
			require.NoError(t, err)
			require.Len(t, incidents, 1)
			require.Equal(t, "INC1", incidents[0].Number)

			incidents, err = s.IncidentsForTOC(ctx, "XC")
			require.NoError(t, err)
			require.Empty(t, incidents)
		})
	}
}

package fares_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/fares"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

func seedDirectFlow(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	require.NoError(t, st.InsertLocationRecords(context.Background(), []model.LocationRecord{
		{CRS: "EUS", NLC: "1000"},
		{CRS: "BHM", NLC: "2000"},
	}))
	require.NoError(t, st.InsertFlowRecords(context.Background(), []model.FlowRecord{
		{FlowID: 1, OriginNLC: "1000", DestNLC: "2000", Direction: model.DirectionSingle, TOC: "LM", StartDate: 20260101, EndDate: 20261231},
	}))
	require.NoError(t, st.InsertFareRecords(context.Background(), []model.FareRecord{
		{FlowID: 1, TicketCode: "SOS", FarePence: 2500},
		{FlowID: 1, TicketCode: "CDS", FarePence: 1500},
	}))
	require.NoError(t, st.InsertTicketTypes(context.Background(), []model.TicketType{
		{TicketCode: "SOS", TktGroup: "S", TktType: "S", DiscountCategory: "01", MaxAdults: 1, MaxChildren: 0},
		{TicketCode: "CDS", TktGroup: "S", TktType: "S", DiscountCategory: "01", MaxAdults: 0, MaxChildren: 1},
	}))
}

func TestTicketPricesResolvesADirectFlow(t *testing.T) {
	st := store.NewMemoryStore()
	seedDirectFlow(t, st)

	r := fares.New(st)
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	prices, err := r.TicketPrices(context.Background(), "EUS", "BHM", "", at)
	require.NoError(t, err)
	require.Len(t, prices, 2)
}

func TestTicketPricesReturnsNilForUnknownCRS(t *testing.T) {
	st := store.NewMemoryStore()
	r := fares.New(st)
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	prices, err := r.TicketPrices(context.Background(), "ZZZ", "YYY", "", at)
	require.NoError(t, err)
	require.Nil(t, prices)
}

func TestSummarizeSplitsAdultAndChildFaresAndKeepsTheCheapestSingle(t *testing.T) {
	st := store.NewMemoryStore()
	seedDirectFlow(t, st)

	r := fares.New(st)
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	prices, err := r.TicketPrices(context.Background(), "EUS", "BHM", "", at)
	require.NoError(t, err)

	adult := fares.Summarize(prices, fares.ForAdult)
	require.NotNil(t, adult.CheapestSingle)
	require.Equal(t, 2500, adult.CheapestSingle.FarePence)
	require.Nil(t, adult.CheapestReturn)

	child := fares.Summarize(prices, fares.ForChild)
	require.NotNil(t, child.CheapestSingle)
	require.Equal(t, 1500, child.CheapestSingle.FarePence)
}

func TestSummarizeIgnoresNonStandardDiscountTickets(t *testing.T) {
	prices := []fares.Priced{
		{FarePence: 500, Ticket: model.TicketType{TktGroup: "S", TktType: "S", DiscountCategory: "02", MaxAdults: 1}},
	}
	summary := fares.Summarize(prices, fares.ForAdult)
	require.Nil(t, summary.CheapestSingle)
}

func TestTicketPricesFallsBackToInternalClusterFares(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.InsertLocationRecords(context.Background(), []model.LocationRecord{
		{CRS: "EUS", NLC: "1000"},
		{CRS: "BHM", NLC: "2000"},
	}))
	// "9999" is a fare-only zone code with no location row of its own;
	// its membership in BHM's cluster ("2000") is what lets the internal
	// fallback match it to BHM as a destination.
	require.NoError(t, st.InsertStationClusters(context.Background(), []model.StationCluster{
		{ClusterID: "2000", LocationNLC: "9999"},
	}))
	require.NoError(t, st.InsertFlowRecords(context.Background(), []model.FlowRecord{
		{FlowID: 2, OriginNLC: "1000", DestNLC: "9999", Direction: model.DirectionSingle, StartDate: 20260101, EndDate: 20261231},
	}))
	require.NoError(t, st.InsertFareRecords(context.Background(), []model.FareRecord{
		{FlowID: 2, TicketCode: "ZON", FarePence: 800},
	}))
	require.NoError(t, st.InsertTicketTypes(context.Background(), []model.TicketType{
		{TicketCode: "ZON", TktGroup: "S", TktType: "S", DiscountCategory: "01", MaxAdults: 1},
	}))

	r := fares.New(st)
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	prices, err := r.TicketPrices(context.Background(), "EUS", "BHM", "", at)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, 800, prices[0].FarePence)
}

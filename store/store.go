// Package store is the Record Store (C2): schema creation, bulk insert,
// wipe-and-reload, and ExpiryTimes bookkeeping behind one Store interface
// with SQLite, Postgres and in-memory backends.
package store

import (
	"context"
	"time"

	"railplanner.dev/core/model"
)

// Table names the reloadable tables a Feed owns. Wipe/Insert* operate
// per table so one feed's refresh never touches another's data.
type Table string

const (
	TableLocations          Table = "locations"
	TableStationClusters    Table = "station_clusters"
	TableFlows              Table = "flows"
	TableFares               Table = "fares"
	TableTicketTypes        Table = "ticket_types"
	TableTrainTimetables    Table = "train_timetables"
	TableTimetableLocations Table = "timetable_locations"
	TableTIPLOCs            Table = "tiplocs"
	TableTimetableLinks     Table = "timetable_links"
	TableIncidents          Table = "incidents"
	TableIncidentOperators  Table = "incident_operators"
	TableStations           Table = "stations"
)

// ClusterSet is the resolved NLC + cluster membership for one CRS code,
// as produced by tickets.py's ncl_for_location_crs.
type ClusterSet struct {
	CRS      string
	NLC      string
	Clusters []string
}

// FareTicket is one priced ticket returned by a fare query, joining
// FlowRecord, FareRecord and TicketType.
type FareTicket struct {
	FlowID      int
	TicketCode  string
	FarePence   int
	TktGroup    string
	TktType     model.TicketDirection
	Discount    string
	MaxAdults   int
	MaxChildren int
}

// Store is the full persistence contract used by the ingestion
// orchestrator (writer side) and the routing/fares/incidents engines
// (reader side). A single Store instance backs the whole planner; unlike
// the teacher's per-feed-hash storage.Storage, there is one logical
// database reloaded table-by-table as each of the four feeds refreshes.
type Store interface {
	// C2 writer contract: one bulk insert method per owned table, plus
	// Wipe to clear a table before a fresh load. The two high-volume
	// tables are bracketed by Begin*/End* calls, and End* flushes any
	// buffered transaction (mirrors FeedWriter's Begin/End bracketing).
	Wipe(ctx context.Context, table Table) error
	InsertLocationRecords(ctx context.Context, rows []model.LocationRecord) error
	InsertStationClusters(ctx context.Context, rows []model.StationCluster) error
	InsertFlowRecords(ctx context.Context, rows []model.FlowRecord) error
	InsertFareRecords(ctx context.Context, rows []model.FareRecord) error
	InsertTicketTypes(ctx context.Context, rows []model.TicketType) error
	BeginTrainTimetables(ctx context.Context) error
	InsertTrainTimetables(ctx context.Context, rows []model.TrainTimetable) error
	EndTrainTimetables(ctx context.Context) error
	BeginTimetableLocations(ctx context.Context) error
	InsertTimetableLocations(ctx context.Context, rows []model.TimetableLocation) error
	EndTimetableLocations(ctx context.Context) error
	InsertTIPLOCs(ctx context.Context, rows []model.TIPLOC) error
	InsertIncidents(ctx context.Context, rows []model.Incident) error
	InsertIncidentAffectedOperators(ctx context.Context, rows []model.IncidentAffectedOperator) error
	InsertStations(ctx context.Context, rows []model.Station) error

	// GenerateTimetableLinks recomputes the precomputed TimetableLink
	// adjacency table from the current timetable_locations contents
	// (spec.md §4.6, the MCA post-ingest hook). Grounded on
	// dtd.py:generate_precomputed_tables's self-join insert.
	GenerateTimetableLinks(ctx context.Context) error

	// Expiry bookkeeping (C3).
	GetExpiry(ctx context.Context, apiURL string) (model.ExpiryTimes, bool, error)
	SetExpiry(ctx context.Context, apiURL string, expiry time.Time) error

	// C9 Path Search reads.
	LinksFrom(ctx context.Context, locations []string) ([]model.TimetableLink, error)
	TIPLOCForCRS(ctx context.Context, crs []string) (map[string]string, error)
	CRSForTIPLOC(ctx context.Context, tiplocs []string) (map[string]string, error)

	// C10 Journey Assembler reads.
	TimetableLocationsAt(ctx context.Context, location string, date time.Time) ([]model.TimetableLocation, error)
	TrainTimetable(ctx context.Context, uid string, date time.Time) (*model.TrainTimetable, bool, error)

	// C12 Fare Resolver reads.
	ResolveClusters(ctx context.Context, crs []string) ([]ClusterSet, error)
	DirectFares(ctx context.Context, fromNLCs, toNLCs []string, toc string, at time.Time) ([]FareTicket, error)
	InternalFares(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error)
	InternalFaresReversed(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error)

	// C13 Incident Matcher reads.
	IncidentsForTOC(ctx context.Context, toc string) ([]model.Incident, error)
	NameToTIPLOCMap(ctx context.Context) (map[string]string, error)

	Close() error
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"railplanner.dev/core/model"
)

// SQLiteConfig mirrors the teacher's storage.SQLiteConfig: on-disk vs
// in-memory, with a directory for the former.
type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

// SQLiteStore is the default Record Store backend (spec.md §6: "Persisted
// state: a single SQLite file"). Unlike the teacher's per-feed-hash
// storage.SQLiteStorage, there is exactly one database file: each feed
// owns a disjoint set of tables and reloads them via Wipe+Insert*.
type SQLiteStore struct {
	cfg SQLiteConfig
	db  *sql.DB

	timetableTx   *sql.Tx
	timetableStmt *sql.Stmt

	locationTx   *sql.Tx
	locationStmt *sql.Stmt
}

var schema = `
CREATE TABLE IF NOT EXISTS locations (
    crs TEXT PRIMARY KEY,
    nlc TEXT NOT NULL,
    uic TEXT
);
CREATE INDEX IF NOT EXISTS locations_nlc ON locations (nlc);

CREATE TABLE IF NOT EXISTS station_clusters (
    cluster_id TEXT NOT NULL,
    location_nlc TEXT NOT NULL,
    PRIMARY KEY (cluster_id, location_nlc)
);
CREATE INDEX IF NOT EXISTS station_clusters_nlc ON station_clusters (location_nlc);

CREATE TABLE IF NOT EXISTS flows (
    flow_id INTEGER PRIMARY KEY,
    origin_nlc TEXT NOT NULL,
    dest_nlc TEXT NOT NULL,
    direction TEXT NOT NULL,
    toc TEXT NOT NULL,
    start_date INTEGER NOT NULL,
    end_date INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS flows_od ON flows (origin_nlc, dest_nlc);

CREATE TABLE IF NOT EXISTS fares (
    flow_id INTEGER NOT NULL,
    ticket_code TEXT NOT NULL,
    fare_pence INTEGER NOT NULL,
    PRIMARY KEY (flow_id, ticket_code)
);

CREATE TABLE IF NOT EXISTS ticket_types (
    ticket_code TEXT PRIMARY KEY,
    description TEXT,
    tkt_class INTEGER,
    tkt_type TEXT,
    tkt_group TEXT,
    max_passengers INTEGER,
    min_passengers INTEGER,
    max_adults INTEGER,
    min_adults INTEGER,
    max_children INTEGER,
    min_children INTEGER,
    restricted_by_date INTEGER,
    restricted_by_train INTEGER,
    restricted_by_area INTEGER,
    validity_code TEXT,
    reservation_required TEXT,
    capri_code TEXT,
    uts_code TEXT,
    time_restriction INTEGER,
    free_pass_lul INTEGER,
    package_mkr TEXT,
    fare_multiplier INTEGER,
    discount_category TEXT
);

CREATE TABLE IF NOT EXISTS train_timetables (
    train_uid TEXT PRIMARY KEY,
    date_runs_from INTEGER NOT NULL,
    date_runs_to INTEGER NOT NULL,
    monday INTEGER NOT NULL,
    tuesday INTEGER NOT NULL,
    wednesday INTEGER NOT NULL,
    thursday INTEGER NOT NULL,
    friday INTEGER NOT NULL,
    saturday INTEGER NOT NULL,
    sunday INTEGER NOT NULL,
    bank_holiday_running INTEGER NOT NULL,
    rsid TEXT,
    toc TEXT
);

CREATE TABLE IF NOT EXISTS timetable_locations (
    train_uid TEXT NOT NULL,
    train_route_index INTEGER NOT NULL,
    location_type INTEGER NOT NULL,
    location TEXT NOT NULL,
    scheduled_arrival_time INTEGER NOT NULL,
    scheduled_departure_time INTEGER NOT NULL,
    public_arrival TEXT,
    public_departure TEXT,
    platform TEXT,
    line TEXT,
    path TEXT,
    activity TEXT,
    engineering_allowance TEXT,
    pathing_allowance TEXT,
    performance_allowance TEXT,
    PRIMARY KEY (train_uid, train_route_index)
);
CREATE INDEX IF NOT EXISTS timetable_locations_loc ON timetable_locations (location);

CREATE TABLE IF NOT EXISTS tiplocs (
    tiploc_code TEXT PRIMARY KEY,
    crs_code TEXT,
    description TEXT
);
CREATE INDEX IF NOT EXISTS tiplocs_crs ON tiplocs (crs_code);

CREATE TABLE IF NOT EXISTS timetable_links (
    from_location TEXT NOT NULL,
    to_location TEXT NOT NULL,
    PRIMARY KEY (from_location, to_location)
);

CREATE TABLE IF NOT EXISTS incidents (
    number TEXT PRIMARY KEY,
    creation_time TIMESTAMP NOT NULL,
    planned INTEGER NOT NULL,
    summary TEXT,
    description TEXT,
    cleared INTEGER NOT NULL,
    route_affected_text TEXT
);

CREATE TABLE IF NOT EXISTS incident_operators (
    incident_number TEXT NOT NULL,
    toc TEXT NOT NULL,
    operator_name TEXT,
    PRIMARY KEY (incident_number, toc)
);
CREATE INDEX IF NOT EXISTS incident_operators_toc ON incident_operators (toc);

CREATE TABLE IF NOT EXISTS stations (
    crs TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS expiry_times (
    api_url TEXT PRIMARY KEY,
    expiry_timestamp INTEGER NOT NULL
);
`

// NewSQLiteStore opens (creating if absent) the planner database. Matching
// feeds.py:open_database, the WAL/NORMAL/cache_size PRAGMAs are applied
// only when the database file is newly created, since they're persisted
// into the file itself and re-applying them on every open is wasted work.
func NewSQLiteStore(cfg ...SQLiteConfig) (*SQLiteStore, error) {
	onDisk, directory := false, ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	isNew := true
	if onDisk {
		sourceName = directory + "/railplanner.db"
		if _, err := os.Stat(sourceName); err == nil {
			isNew = false
		}
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The ingestion orchestrator holds a write transaction open across an
	// entire feed's drain loop (BeginTrainTimetables/BeginTimetableLocations)
	// while also autocommitting to other tables on the same *sql.DB. A
	// pool of more than one connection would hand those writes to separate
	// SQLite connections and deadlock (or, for ":memory:", silently split
	// the data across separate in-memory databases), so this store is
	// pinned to a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if isNew {
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = 100000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("applying %s: %w", pragma, err)
			}
		}
	}

	return &SQLiteStore{
		cfg: SQLiteConfig{OnDisk: onDisk, Directory: directory},
		db:  db,
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (s *SQLiteStore) Wipe(ctx context.Context, table Table) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
	if err != nil {
		return fmt.Errorf("wiping %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) InsertLocationRecords(ctx context.Context, rows []model.LocationRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO locations (crs, nlc, uic) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing location insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.CRS, r.NLC, r.UIC); err != nil {
			return fmt.Errorf("inserting location %s: %w", r.CRS, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertStationClusters(ctx context.Context, rows []model.StationCluster) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO station_clusters (cluster_id, location_nlc) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing cluster insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ClusterID, r.LocationNLC); err != nil {
			return fmt.Errorf("inserting cluster %s: %w", r.ClusterID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertFlowRecords(ctx context.Context, rows []model.FlowRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO flows (flow_id, origin_nlc, dest_nlc, direction, toc, start_date, end_date)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing flow insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.FlowID, r.OriginNLC, r.DestNLC, string(r.Direction), r.TOC, r.StartDate, r.EndDate); err != nil {
			return fmt.Errorf("inserting flow %d: %w", r.FlowID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertFareRecords(ctx context.Context, rows []model.FareRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO fares (flow_id, ticket_code, fare_pence) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing fare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.FlowID, r.TicketCode, r.FarePence); err != nil {
			return fmt.Errorf("inserting fare %d/%s: %w", r.FlowID, r.TicketCode, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertTicketTypes(ctx context.Context, rows []model.TicketType) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO ticket_types (
    ticket_code, description, tkt_class, tkt_type, tkt_group, max_passengers,
    min_passengers, max_adults, min_adults, max_children, min_children,
    restricted_by_date, restricted_by_train, restricted_by_area, validity_code,
    reservation_required, capri_code, uts_code, time_restriction, free_pass_lul,
    package_mkr, fare_multiplier, discount_category
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing ticket type insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.TicketCode, r.Description, r.TktClass, r.TktType, r.TktGroup, r.MaxPassengers,
			r.MinPassengers, r.MaxAdults, r.MinAdults, r.MaxChildren, r.MinChildren,
			r.RestrictedByDate, r.RestrictedByTrain, r.RestrictedByArea, r.ValidityCode,
			r.ReservationRequired, r.CapriCode, r.UTSCode, r.TimeRestriction, r.FreePassLUL,
			r.PackageMkr, r.FareMultiplier, r.DiscountCategory)
		if err != nil {
			return fmt.Errorf("inserting ticket type %s: %w", r.TicketCode, err)
		}
	}
	return nil
}

// BeginTrainTimetables and EndTrainTimetables bracket MCA BS/BX inserts in
// one transaction with a prepared statement, the same pattern as the
// teacher's BeginStopTimes/EndStopTimes for its highest-volume table.
func (s *SQLiteStore) BeginTrainTimetables(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning train_timetables transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO train_timetables (
    train_uid, date_runs_from, date_runs_to, monday, tuesday, wednesday,
    thursday, friday, saturday, sunday, bank_holiday_running, rsid, toc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing train_timetables insert: %w", err)
	}
	s.timetableTx = tx
	s.timetableStmt = stmt
	return nil
}

func (s *SQLiteStore) InsertTrainTimetables(ctx context.Context, rows []model.TrainTimetable) error {
	if s.timetableStmt == nil {
		return fmt.Errorf("InsertTrainTimetables called outside Begin/EndTrainTimetables")
	}
	for _, r := range rows {
		_, err := s.timetableStmt.ExecContext(ctx,
			r.TrainUID, r.DateRunsFrom, r.DateRunsTo, r.Monday, r.Tuesday, r.Wednesday,
			r.Thursday, r.Friday, r.Saturday, r.Sunday, r.BankHolidayRunning, r.RSID, r.TOC)
		if err != nil {
			s.timetableStmt.Close()
			s.timetableTx.Rollback()
			s.timetableStmt, s.timetableTx = nil, nil
			return fmt.Errorf("inserting train_timetable %s: %w", r.TrainUID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) EndTrainTimetables(ctx context.Context) error {
	if s.timetableStmt == nil {
		return nil
	}
	s.timetableStmt.Close()
	err := s.timetableTx.Commit()
	s.timetableStmt, s.timetableTx = nil, nil
	if err != nil {
		return fmt.Errorf("committing train_timetables transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BeginTimetableLocations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning timetable_locations transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO timetable_locations (
    train_uid, train_route_index, location_type, location, scheduled_arrival_time,
    scheduled_departure_time, public_arrival, public_departure, platform, line, path,
    activity, engineering_allowance, pathing_allowance, performance_allowance
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing timetable_locations insert: %w", err)
	}
	s.locationTx = tx
	s.locationStmt = stmt
	return nil
}

func (s *SQLiteStore) InsertTimetableLocations(ctx context.Context, rows []model.TimetableLocation) error {
	if s.locationStmt == nil {
		return fmt.Errorf("InsertTimetableLocations called outside Begin/EndTimetableLocations")
	}
	for _, r := range rows {
		_, err := s.locationStmt.ExecContext(ctx,
			r.TrainUID, r.TrainRouteIndex, int(r.LocationType), r.Location, r.ScheduledArrivalTime,
			r.ScheduledDepartureTime, r.PublicArrival, r.PublicDeparture, r.Platform, r.Line, r.Path,
			r.Activity, r.EngineeringAllowance, r.PathingAllowance, r.PerformanceAllowance)
		if err != nil {
			s.locationStmt.Close()
			s.locationTx.Rollback()
			s.locationStmt, s.locationTx = nil, nil
			return fmt.Errorf("inserting timetable_location %s/%d: %w", r.TrainUID, r.TrainRouteIndex, err)
		}
	}
	return nil
}

func (s *SQLiteStore) EndTimetableLocations(ctx context.Context) error {
	if s.locationStmt == nil {
		return nil
	}
	s.locationStmt.Close()
	err := s.locationTx.Commit()
	s.locationStmt, s.locationTx = nil, nil
	if err != nil {
		return fmt.Errorf("committing timetable_locations transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertTIPLOCs(ctx context.Context, rows []model.TIPLOC) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO tiplocs (tiploc_code, crs_code, description) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing tiploc insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.TiplocCode, r.CRSCode, r.Description); err != nil {
			return fmt.Errorf("inserting tiploc %s: %w", r.TiplocCode, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertIncidents(ctx context.Context, rows []model.Incident) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO incidents (number, creation_time, planned, summary, description, cleared, route_affected_text)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (number) DO UPDATE SET
    creation_time=excluded.creation_time, planned=excluded.planned, summary=excluded.summary,
    description=excluded.description, cleared=excluded.cleared, route_affected_text=excluded.route_affected_text`)
	if err != nil {
		return fmt.Errorf("preparing incident insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, r.Number, r.CreationTime, r.Planned, r.Summary, r.Description, r.Cleared, r.RouteAffectedText)
		if err != nil {
			return fmt.Errorf("inserting incident %s: %w", r.Number, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertIncidentAffectedOperators(ctx context.Context, rows []model.IncidentAffectedOperator) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO incident_operators (incident_number, toc, operator_name) VALUES (?, ?, ?)
ON CONFLICT (incident_number, toc) DO UPDATE SET operator_name=excluded.operator_name`)
	if err != nil {
		return fmt.Errorf("preparing incident operator insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.IncidentNumber, r.TOC, r.OperatorName); err != nil {
			return fmt.Errorf("inserting incident operator %s/%s: %w", r.IncidentNumber, r.TOC, err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertStations(ctx context.Context, rows []model.Station) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO stations (crs, name) VALUES (?, ?)
ON CONFLICT (crs) DO UPDATE SET name=excluded.name`)
	if err != nil {
		return fmt.Errorf("preparing station insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.CRS, r.Name); err != nil {
			return fmt.Errorf("inserting station %s: %w", r.CRS, err)
		}
	}
	return nil
}

// GenerateTimetableLinks recomputes timetable_links from consecutive rows
// of timetable_locations, grounded on dtd.py's generate_precomputed_tables
// self-join: two rows of the same train_uid one route-index apart are an
// immediate-adjacency link.
func (s *SQLiteStore) GenerateTimetableLinks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timetable_links`); err != nil {
		return fmt.Errorf("clearing timetable_links: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO timetable_links (from_location, to_location)
SELECT DISTINCT a.location, b.location
FROM timetable_locations a
JOIN timetable_locations b
  ON a.train_uid = b.train_uid AND b.train_route_index = a.train_route_index + 1`)
	if err != nil {
		return fmt.Errorf("generating timetable_links: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExpiry(ctx context.Context, apiURL string) (model.ExpiryTimes, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT expiry_timestamp FROM expiry_times WHERE api_url = ?`, apiURL).Scan(&ts)
	if err == sql.ErrNoRows {
		return model.ExpiryTimes{}, false, nil
	}
	if err != nil {
		return model.ExpiryTimes{}, false, fmt.Errorf("reading expiry for %s: %w", apiURL, err)
	}
	return model.ExpiryTimes{APIURL: apiURL, ExpiryTimestamp: ts}, true, nil
}

func (s *SQLiteStore) SetExpiry(ctx context.Context, apiURL string, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO expiry_times (api_url, expiry_timestamp) VALUES (?, ?)
ON CONFLICT (api_url) DO UPDATE SET expiry_timestamp=excluded.expiry_timestamp`,
		apiURL, expiry.Unix())
	if err != nil {
		return fmt.Errorf("writing expiry for %s: %w", apiURL, err)
	}
	return nil
}

func (s *SQLiteStore) LinksFrom(ctx context.Context, locations []string) ([]model.TimetableLink, error) {
	if len(locations) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT from_location, to_location FROM timetable_links WHERE from_location IN (%s)`, placeholders(len(locations)))
	rows, err := s.db.QueryContext(ctx, query, toAny(locations)...)
	if err != nil {
		return nil, fmt.Errorf("querying timetable_links: %w", err)
	}
	defer rows.Close()

	var out []model.TimetableLink
	for rows.Next() {
		var l model.TimetableLink
		if err := rows.Scan(&l.FromLocation, &l.ToLocation); err != nil {
			return nil, fmt.Errorf("scanning timetable_link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TIPLOCForCRS(ctx context.Context, crs []string) (map[string]string, error) {
	if len(crs) == 0 {
		return map[string]string{}, nil
	}
	query := fmt.Sprintf(`SELECT crs_code, tiploc_code FROM tiplocs WHERE crs_code IN (%s)`, placeholders(len(crs)))
	rows, err := s.db.QueryContext(ctx, query, toAny(crs)...)
	if err != nil {
		return nil, fmt.Errorf("querying tiplocs by crs: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var c, t string
		if err := rows.Scan(&c, &t); err != nil {
			return nil, fmt.Errorf("scanning tiploc: %w", err)
		}
		out[c] = t
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CRSForTIPLOC(ctx context.Context, tiplocs []string) (map[string]string, error) {
	if len(tiplocs) == 0 {
		return map[string]string{}, nil
	}
	query := fmt.Sprintf(`SELECT tiploc_code, crs_code FROM tiplocs WHERE tiploc_code IN (%s)`, placeholders(len(tiplocs)))
	rows, err := s.db.QueryContext(ctx, query, toAny(tiplocs)...)
	if err != nil {
		return nil, fmt.Errorf("querying tiplocs by tiploc: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var t, c string
		if err := rows.Scan(&t, &c); err != nil {
			return nil, fmt.Errorf("scanning tiploc: %w", err)
		}
		out[t] = c
	}
	return out, rows.Err()
}

func weekdayColumn(day time.Weekday) string {
	return [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}[day]
}

func (s *SQLiteStore) TimetableLocationsAt(ctx context.Context, location string, date time.Time) ([]model.TimetableLocation, error) {
	yyyymmdd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	query := fmt.Sprintf(`
SELECT tl.train_uid, tl.train_route_index, tl.location_type, tl.location,
       tl.scheduled_arrival_time, tl.scheduled_departure_time, tl.public_arrival,
       tl.public_departure, tl.platform, tl.line, tl.path, tl.activity,
       tl.engineering_allowance, tl.pathing_allowance, tl.performance_allowance
FROM timetable_locations tl
JOIN train_timetables t ON t.train_uid = tl.train_uid
WHERE tl.location = ? AND t.date_runs_from <= ? AND t.date_runs_to >= ? AND t.%s = 1
ORDER BY tl.train_uid, tl.train_route_index`, weekdayColumn(date.Weekday()))

	rows, err := s.db.QueryContext(ctx, query, location, yyyymmdd, yyyymmdd)
	if err != nil {
		return nil, fmt.Errorf("querying timetable_locations: %w", err)
	}
	defer rows.Close()

	var out []model.TimetableLocation
	for rows.Next() {
		var r model.TimetableLocation
		if err := rows.Scan(
			&r.TrainUID, &r.TrainRouteIndex, &r.LocationType, &r.Location,
			&r.ScheduledArrivalTime, &r.ScheduledDepartureTime, &r.PublicArrival,
			&r.PublicDeparture, &r.Platform, &r.Line, &r.Path, &r.Activity,
			&r.EngineeringAllowance, &r.PathingAllowance, &r.PerformanceAllowance,
		); err != nil {
			return nil, fmt.Errorf("scanning timetable_location: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TrainTimetable(ctx context.Context, uid string, date time.Time) (*model.TrainTimetable, bool, error) {
	yyyymmdd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	var t model.TrainTimetable
	err := s.db.QueryRowContext(ctx, `
SELECT train_uid, date_runs_from, date_runs_to, monday, tuesday, wednesday, thursday,
       friday, saturday, sunday, bank_holiday_running, rsid, toc
FROM train_timetables
WHERE train_uid = ? AND date_runs_from <= ? AND date_runs_to >= ?`, uid, yyyymmdd, yyyymmdd).Scan(
		&t.TrainUID, &t.DateRunsFrom, &t.DateRunsTo, &t.Monday, &t.Tuesday, &t.Wednesday, &t.Thursday,
		&t.Friday, &t.Saturday, &t.Sunday, &t.BankHolidayRunning, &t.RSID, &t.TOC)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying train_timetable %s: %w", uid, err)
	}
	return &t, true, nil
}

// ResolveClusters mirrors tickets.py:ncl_for_location_crs: for each CRS,
// its NLC plus the cluster IDs it's a member of (or just its own NLC if
// it's in no cluster).
func (s *SQLiteStore) ResolveClusters(ctx context.Context, crs []string) ([]ClusterSet, error) {
	if len(crs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT l.crs, l.nlc, COALESCE(sc.cluster_id, l.nlc)
FROM locations l
LEFT JOIN station_clusters sc ON sc.location_nlc = l.nlc
WHERE l.crs IN (%s)`, placeholders(len(crs)))

	rows, err := s.db.QueryContext(ctx, query, toAny(crs)...)
	if err != nil {
		return nil, fmt.Errorf("querying clusters: %w", err)
	}
	defer rows.Close()

	byCRS := map[string]*ClusterSet{}
	var order []string
	for rows.Next() {
		var c, nlc, cluster string
		if err := rows.Scan(&c, &nlc, &cluster); err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		cs, found := byCRS[c]
		if !found {
			cs = &ClusterSet{CRS: c, NLC: nlc}
			byCRS[c] = cs
			order = append(order, c)
		}
		cs.Clusters = append(cs.Clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ClusterSet, 0, len(order))
	for _, c := range order {
		out = append(out, *byCRS[c])
	}
	return out, nil
}

func activeDateFilter(at time.Time) (string, int) {
	return "start_date <= ? AND end_date >= ?", at.Year()*10000 + int(at.Month())*100 + at.Day()
}

// DirectFares mirrors tickets.py:ticket_prices's direct-flow branch: a
// flow whose origin/destination codes (NLC or cluster) match the
// resolved cluster sets on each end.
func (s *SQLiteStore) DirectFares(ctx context.Context, fromNLCs, toNLCs []string, toc string, at time.Time) ([]FareTicket, error) {
	if len(fromNLCs) == 0 || len(toNLCs) == 0 {
		return nil, nil
	}
	dateClause, yyyymmdd := activeDateFilter(at)
	query := fmt.Sprintf(`
SELECT fa.flow_id, fa.ticket_code, fa.fare_pence, t.tkt_group, t.tkt_type, t.discount_category, t.max_adults, t.max_children
FROM fares fa
JOIN flows fl ON fl.flow_id = fa.flow_id
JOIN ticket_types t ON t.ticket_code = fa.ticket_code
WHERE fl.origin_nlc IN (%s) AND fl.dest_nlc IN (%s) AND %s`,
		placeholders(len(fromNLCs)), placeholders(len(toNLCs)), dateClause)
	args := append(toAny(fromNLCs), toAny(toNLCs)...)
	args = append(args, yyyymmdd, yyyymmdd)
	if toc != "" {
		query += " AND fl.toc = ?"
		args = append(args, toc)
	}
	return s.scanFareTickets(ctx, query, args...)
}

// InternalFares mirrors tickets.py:internal_tickets: flows priced FROM a
// real station's NLC TO a cluster-only destination code (one with no
// matching row in locations).
func (s *SQLiteStore) InternalFares(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error) {
	if len(toClusters) == 0 {
		return nil, nil
	}
	dateClause, yyyymmdd := activeDateFilter(at)
	query := fmt.Sprintf(`
SELECT fa.flow_id, fa.ticket_code, fa.fare_pence, t.tkt_group, t.tkt_type, t.discount_category, t.max_adults, t.max_children
FROM fares fa
JOIN flows fl ON fl.flow_id = fa.flow_id
JOIN ticket_types t ON t.ticket_code = fa.ticket_code
JOIN station_clusters sc ON sc.location_nlc = fl.dest_nlc
LEFT JOIN locations l ON l.nlc = fl.dest_nlc
WHERE l.crs IS NULL AND sc.cluster_id IN (%s) AND fl.origin_nlc = ? AND %s`,
		placeholders(len(toClusters)), dateClause)
	args := append(toAny(toClusters), fromNLC, yyyymmdd, yyyymmdd)
	if toc != "" {
		query += " AND fl.toc = ?"
		args = append(args, toc)
	}
	return s.scanFareTickets(ctx, query, args...)
}

// InternalFaresReversed mirrors tickets.py:internal_tickets_reversed: the
// same shape, but against return flows priced in the other direction.
func (s *SQLiteStore) InternalFaresReversed(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error) {
	if len(toClusters) == 0 {
		return nil, nil
	}
	dateClause, yyyymmdd := activeDateFilter(at)
	query := fmt.Sprintf(`
SELECT fa.flow_id, fa.ticket_code, fa.fare_pence, t.tkt_group, t.tkt_type, t.discount_category, t.max_adults, t.max_children
FROM fares fa
JOIN flows fl ON fl.flow_id = fa.flow_id
JOIN ticket_types t ON t.ticket_code = fa.ticket_code
JOIN station_clusters sc ON sc.location_nlc = fl.origin_nlc
LEFT JOIN locations l ON l.nlc = fl.origin_nlc
WHERE l.crs IS NULL AND fl.direction = 'R' AND sc.cluster_id IN (%s) AND fl.dest_nlc = ? AND %s`,
		placeholders(len(toClusters)), dateClause)
	args := append(toAny(toClusters), fromNLC, yyyymmdd, yyyymmdd)
	if toc != "" {
		query += " AND fl.toc = ?"
		args = append(args, toc)
	}
	return s.scanFareTickets(ctx, query, args...)
}

func (s *SQLiteStore) scanFareTickets(ctx context.Context, query string, args ...interface{}) ([]FareTicket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fares: %w", err)
	}
	defer rows.Close()

	var out []FareTicket
	for rows.Next() {
		var f FareTicket
		var tktType string
		if err := rows.Scan(&f.FlowID, &f.TicketCode, &f.FarePence, &f.TktGroup, &tktType, &f.Discount, &f.MaxAdults, &f.MaxChildren); err != nil {
			return nil, fmt.Errorf("scanning fare: %w", err)
		}
		f.TktType = model.TicketDirection(tktType)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IncidentsForTOC(ctx context.Context, toc string) ([]model.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT i.number, i.creation_time, i.planned, i.summary, i.description, i.cleared, i.route_affected_text
FROM incidents i
JOIN incident_operators io ON io.incident_number = i.number
WHERE io.toc = ?`, toc)
	if err != nil {
		return nil, fmt.Errorf("querying incidents for toc %s: %w", toc, err)
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		var inc model.Incident
		if err := rows.Scan(&inc.Number, &inc.CreationTime, &inc.Planned, &inc.Summary, &inc.Description, &inc.Cleared, &inc.RouteAffectedText); err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) NameToTIPLOCMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.name, t.tiploc_code
FROM stations s
JOIN tiplocs t ON t.crs_code = s.crs`)
	if err != nil {
		return nil, fmt.Errorf("querying name-to-tiploc map: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, tiploc string
		if err := rows.Scan(&name, &tiploc); err != nil {
			return nil, fmt.Errorf("scanning name-to-tiploc row: %w", err)
		}
		out[name] = tiploc
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"railplanner.dev/core/model"
)

// PostgresBatchSize bounds how many rows accumulate in a COPY buffer
// before a flush, the same role PSQLTripBatchSize/PSQLStopTimeBatchSize
// play in the teacher's postgres.go for its high-volume tables.
const PostgresBatchSize = 10000

// PostgresStore is the alternate Store backend (SPEC_FULL.md §3) for
// operators who externalize planner state onto a shared Postgres
// instance instead of a local SQLite file. Not the default path; CLI and
// tests use SQLiteStore per spec.md §6.
type PostgresStore struct {
	db *sql.DB

	timetableBuf []model.TrainTimetable
	locationBuf  []model.TimetableLocation
}

var postgresSchema = `
CREATE TABLE IF NOT EXISTS locations (
    crs TEXT PRIMARY KEY, nlc TEXT NOT NULL, uic TEXT
);
CREATE INDEX IF NOT EXISTS locations_nlc ON locations (nlc);

CREATE TABLE IF NOT EXISTS station_clusters (
    cluster_id TEXT NOT NULL, location_nlc TEXT NOT NULL,
    PRIMARY KEY (cluster_id, location_nlc)
);
CREATE INDEX IF NOT EXISTS station_clusters_nlc ON station_clusters (location_nlc);

CREATE TABLE IF NOT EXISTS flows (
    flow_id BIGINT PRIMARY KEY, origin_nlc TEXT NOT NULL, dest_nlc TEXT NOT NULL,
    direction TEXT NOT NULL, toc TEXT NOT NULL, start_date INTEGER NOT NULL, end_date INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS flows_od ON flows (origin_nlc, dest_nlc);

CREATE TABLE IF NOT EXISTS fares (
    flow_id BIGINT NOT NULL, ticket_code TEXT NOT NULL, fare_pence INTEGER NOT NULL,
    PRIMARY KEY (flow_id, ticket_code)
);

CREATE TABLE IF NOT EXISTS ticket_types (
    ticket_code TEXT PRIMARY KEY, description TEXT, tkt_class INTEGER, tkt_type TEXT,
    tkt_group TEXT, max_passengers INTEGER, min_passengers INTEGER, max_adults INTEGER,
    min_adults INTEGER, max_children INTEGER, min_children INTEGER, restricted_by_date BOOLEAN,
    restricted_by_train BOOLEAN, restricted_by_area BOOLEAN, validity_code TEXT,
    reservation_required TEXT, capri_code TEXT, uts_code TEXT, time_restriction INTEGER,
    free_pass_lul BOOLEAN, package_mkr TEXT, fare_multiplier INTEGER, discount_category TEXT
);

CREATE TABLE IF NOT EXISTS train_timetables (
    train_uid TEXT PRIMARY KEY, date_runs_from INTEGER NOT NULL, date_runs_to INTEGER NOT NULL,
    monday BOOLEAN NOT NULL, tuesday BOOLEAN NOT NULL, wednesday BOOLEAN NOT NULL,
    thursday BOOLEAN NOT NULL, friday BOOLEAN NOT NULL, saturday BOOLEAN NOT NULL,
    sunday BOOLEAN NOT NULL, bank_holiday_running BOOLEAN NOT NULL, rsid TEXT, toc TEXT
);

CREATE TABLE IF NOT EXISTS timetable_locations (
    train_uid TEXT NOT NULL, train_route_index INTEGER NOT NULL, location_type INTEGER NOT NULL,
    location TEXT NOT NULL, scheduled_arrival_time INTEGER NOT NULL,
    scheduled_departure_time INTEGER NOT NULL, public_arrival TEXT, public_departure TEXT,
    platform TEXT, line TEXT, path TEXT, activity TEXT, engineering_allowance TEXT,
    pathing_allowance TEXT, performance_allowance TEXT,
    PRIMARY KEY (train_uid, train_route_index)
);
CREATE INDEX IF NOT EXISTS timetable_locations_loc ON timetable_locations (location);

CREATE TABLE IF NOT EXISTS tiplocs (
    tiploc_code TEXT PRIMARY KEY, crs_code TEXT, description TEXT
);
CREATE INDEX IF NOT EXISTS tiplocs_crs ON tiplocs (crs_code);

CREATE TABLE IF NOT EXISTS timetable_links (
    from_location TEXT NOT NULL, to_location TEXT NOT NULL,
    PRIMARY KEY (from_location, to_location)
);

CREATE TABLE IF NOT EXISTS incidents (
    number TEXT PRIMARY KEY, creation_time TIMESTAMP NOT NULL, planned BOOLEAN NOT NULL,
    summary TEXT, description TEXT, cleared BOOLEAN NOT NULL, route_affected_text TEXT
);

CREATE TABLE IF NOT EXISTS incident_operators (
    incident_number TEXT NOT NULL, toc TEXT NOT NULL, operator_name TEXT,
    PRIMARY KEY (incident_number, toc)
);
CREATE INDEX IF NOT EXISTS incident_operators_toc ON incident_operators (toc);

CREATE TABLE IF NOT EXISTS stations (
    crs TEXT PRIMARY KEY, name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS expiry_times (
    api_url TEXT PRIMARY KEY, expiry_timestamp BIGINT NOT NULL
);
`

// NewPostgresStore opens a Postgres-backed Store using the given
// connection string, mirroring the teacher's NewPSQLStorage.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func pgPlaceholders(n, start int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func pgArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (s *PostgresStore) Wipe(ctx context.Context, table Table) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
	if err != nil {
		return fmt.Errorf("wiping %s: %w", table, err)
	}
	return nil
}

func (s *PostgresStore) InsertLocationRecords(ctx context.Context, rows []model.LocationRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO locations (crs, nlc, uic) VALUES ($1, $2, $3)`)
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

func (s *PostgresStore) InsertStationClusters(ctx context.Context, rows []model.StationCluster) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO station_clusters (cluster_id, location_nlc) VALUES ($1, $2)`)
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

func (s *PostgresStore) InsertFlowRecords(ctx context.Context, rows []model.FlowRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO flows (flow_id, origin_nlc, dest_nlc, direction, toc, start_date, end_date)
VALUES ($1, $2, $3, $4, $5, $6, $7)`)
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

func (s *PostgresStore) InsertFareRecords(ctx context.Context, rows []model.FareRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO fares (flow_id, ticket_code, fare_pence) VALUES ($1, $2, $3)`)
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

func (s *PostgresStore) InsertTicketTypes(ctx context.Context, rows []model.TicketType) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO ticket_types (
    ticket_code, description, tkt_class, tkt_type, tkt_group, max_passengers,
    min_passengers, max_adults, min_adults, max_children, min_children,
    restricted_by_date, restricted_by_train, restricted_by_area, validity_code,
    reservation_required, capri_code, uts_code, time_restriction, free_pass_lul,
    package_mkr, fare_multiplier, discount_category
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`)
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

// BeginTrainTimetables/InsertTrainTimetables/EndTrainTimetables buffer rows
// and flush via pq.CopyIn, the same COPY-based batching the teacher uses
// for trips/stop_times in postgres.go.
func (s *PostgresStore) BeginTrainTimetables(ctx context.Context) error {
	s.timetableBuf = nil
	return nil
}

func (s *PostgresStore) InsertTrainTimetables(ctx context.Context, rows []model.TrainTimetable) error {
	s.timetableBuf = append(s.timetableBuf, rows...)
	if len(s.timetableBuf) >= PostgresBatchSize {
		return s.flushTrainTimetables(ctx)
	}
	return nil
}

func (s *PostgresStore) EndTrainTimetables(ctx context.Context) error {
	if len(s.timetableBuf) > 0 {
		return s.flushTrainTimetables(ctx)
	}
	return nil
}

func (s *PostgresStore) flushTrainTimetables(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("train_timetables",
		"train_uid", "date_runs_from", "date_runs_to", "monday", "tuesday", "wednesday",
		"thursday", "friday", "saturday", "sunday", "bank_holiday_running", "rsid", "toc"))
	if err != nil {
		return fmt.Errorf("preparing COPY: %w", err)
	}
	defer stmt.Close()

	for _, r := range s.timetableBuf {
		_, err := stmt.Exec(
			r.TrainUID, r.DateRunsFrom, r.DateRunsTo, r.Monday, r.Tuesday, r.Wednesday,
			r.Thursday, r.Friday, r.Saturday, r.Sunday, r.BankHolidayRunning, r.RSID, r.TOC)
		if err != nil {
			return fmt.Errorf("COPY train_timetable: %w", err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("executing COPY: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	s.timetableBuf = nil
	return nil
}

func (s *PostgresStore) BeginTimetableLocations(ctx context.Context) error {
	s.locationBuf = nil
	return nil
}

func (s *PostgresStore) InsertTimetableLocations(ctx context.Context, rows []model.TimetableLocation) error {
	s.locationBuf = append(s.locationBuf, rows...)
	if len(s.locationBuf) >= PostgresBatchSize {
		return s.flushTimetableLocations(ctx)
	}
	return nil
}

func (s *PostgresStore) EndTimetableLocations(ctx context.Context) error {
	if len(s.locationBuf) > 0 {
		return s.flushTimetableLocations(ctx)
	}
	return nil
}

func (s *PostgresStore) flushTimetableLocations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("timetable_locations",
		"train_uid", "train_route_index", "location_type", "location", "scheduled_arrival_time",
		"scheduled_departure_time", "public_arrival", "public_departure", "platform", "line", "path",
		"activity", "engineering_allowance", "pathing_allowance", "performance_allowance"))
	if err != nil {
		return fmt.Errorf("preparing COPY: %w", err)
	}
	defer stmt.Close()

	for _, r := range s.locationBuf {
		_, err := stmt.Exec(
			r.TrainUID, r.TrainRouteIndex, int(r.LocationType), r.Location, r.ScheduledArrivalTime,
			r.ScheduledDepartureTime, r.PublicArrival, r.PublicDeparture, r.Platform, r.Line, r.Path,
			r.Activity, r.EngineeringAllowance, r.PathingAllowance, r.PerformanceAllowance)
		if err != nil {
			return fmt.Errorf("COPY timetable_location: %w", err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("executing COPY: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	s.locationBuf = nil
	return nil
}

func (s *PostgresStore) InsertTIPLOCs(ctx context.Context, rows []model.TIPLOC) error {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO tiplocs (tiploc_code, crs_code, description) VALUES ($1, $2, $3)`)
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

func (s *PostgresStore) InsertIncidents(ctx context.Context, rows []model.Incident) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO incidents (number, creation_time, planned, summary, description, cleared, route_affected_text)
VALUES ($1, $2, $3, $4, $5, $6, $7)
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

func (s *PostgresStore) InsertIncidentAffectedOperators(ctx context.Context, rows []model.IncidentAffectedOperator) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO incident_operators (incident_number, toc, operator_name) VALUES ($1, $2, $3)
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

func (s *PostgresStore) InsertStations(ctx context.Context, rows []model.Station) error {
	stmt, err := s.db.PrepareContext(ctx, `
INSERT INTO stations (crs, name) VALUES ($1, $2)
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

func (s *PostgresStore) GenerateTimetableLinks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timetable_links`); err != nil {
		return fmt.Errorf("clearing timetable_links: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO timetable_links (from_location, to_location)
SELECT DISTINCT a.location, b.location
FROM timetable_locations a
JOIN timetable_locations b
  ON a.train_uid = b.train_uid AND b.train_route_index = a.train_route_index + 1
ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("generating timetable_links: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExpiry(ctx context.Context, apiURL string) (model.ExpiryTimes, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT expiry_timestamp FROM expiry_times WHERE api_url = $1`, apiURL).Scan(&ts)
	if err == sql.ErrNoRows {
		return model.ExpiryTimes{}, false, nil
	}
	if err != nil {
		return model.ExpiryTimes{}, false, fmt.Errorf("reading expiry for %s: %w", apiURL, err)
	}
	return model.ExpiryTimes{APIURL: apiURL, ExpiryTimestamp: ts}, true, nil
}

func (s *PostgresStore) SetExpiry(ctx context.Context, apiURL string, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO expiry_times (api_url, expiry_timestamp) VALUES ($1, $2)
ON CONFLICT (api_url) DO UPDATE SET expiry_timestamp=excluded.expiry_timestamp`,
		apiURL, expiry.Unix())
	if err != nil {
		return fmt.Errorf("writing expiry for %s: %w", apiURL, err)
	}
	return nil
}

func (s *PostgresStore) LinksFrom(ctx context.Context, locations []string) ([]model.TimetableLink, error) {
	if len(locations) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT from_location, to_location FROM timetable_links WHERE from_location IN (%s)`, pgPlaceholders(len(locations), 1))
	rows, err := s.db.QueryContext(ctx, query, pgArgs(locations)...)
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

func (s *PostgresStore) TIPLOCForCRS(ctx context.Context, crs []string) (map[string]string, error) {
	if len(crs) == 0 {
		return map[string]string{}, nil
	}
	query := fmt.Sprintf(`SELECT crs_code, tiploc_code FROM tiplocs WHERE crs_code IN (%s)`, pgPlaceholders(len(crs), 1))
	rows, err := s.db.QueryContext(ctx, query, pgArgs(crs)...)
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

func (s *PostgresStore) CRSForTIPLOC(ctx context.Context, tiplocs []string) (map[string]string, error) {
	if len(tiplocs) == 0 {
		return map[string]string{}, nil
	}
	query := fmt.Sprintf(`SELECT tiploc_code, crs_code FROM tiplocs WHERE tiploc_code IN (%s)`, pgPlaceholders(len(tiplocs), 1))
	rows, err := s.db.QueryContext(ctx, query, pgArgs(tiplocs)...)
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

func (s *PostgresStore) TimetableLocationsAt(ctx context.Context, location string, date time.Time) ([]model.TimetableLocation, error) {
	yyyymmdd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	query := fmt.Sprintf(`
SELECT tl.train_uid, tl.train_route_index, tl.location_type, tl.location,
       tl.scheduled_arrival_time, tl.scheduled_departure_time, tl.public_arrival,
       tl.public_departure, tl.platform, tl.line, tl.path, tl.activity,
       tl.engineering_allowance, tl.pathing_allowance, tl.performance_allowance
FROM timetable_locations tl
JOIN train_timetables t ON t.train_uid = tl.train_uid
WHERE tl.location = $1 AND t.date_runs_from <= $2 AND t.date_runs_to >= $2 AND t.%s = TRUE
ORDER BY tl.train_uid, tl.train_route_index`, weekdayColumn(date.Weekday()))

	rows, err := s.db.QueryContext(ctx, query, location, yyyymmdd)
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

func (s *PostgresStore) TrainTimetable(ctx context.Context, uid string, date time.Time) (*model.TrainTimetable, bool, error) {
	yyyymmdd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	var t model.TrainTimetable
	err := s.db.QueryRowContext(ctx, `
SELECT train_uid, date_runs_from, date_runs_to, monday, tuesday, wednesday, thursday,
       friday, saturday, sunday, bank_holiday_running, rsid, toc
FROM train_timetables
WHERE train_uid = $1 AND date_runs_from <= $2 AND date_runs_to >= $2`, uid, yyyymmdd).Scan(
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

func (s *PostgresStore) ResolveClusters(ctx context.Context, crs []string) ([]ClusterSet, error) {
	if len(crs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT l.crs, l.nlc, COALESCE(sc.cluster_id, l.nlc)
FROM locations l
LEFT JOIN station_clusters sc ON sc.location_nlc = l.nlc
WHERE l.crs IN (%s)`, pgPlaceholders(len(crs), 1))

	rows, err := s.db.QueryContext(ctx, query, pgArgs(crs)...)
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

func (s *PostgresStore) DirectFares(ctx context.Context, fromNLCs, toNLCs []string, toc string, at time.Time) ([]FareTicket, error) {
	if len(fromNLCs) == 0 || len(toNLCs) == 0 {
		return nil, nil
	}
	yyyymmdd := at.Year()*10000 + int(at.Month())*100 + at.Day()
	next := 1
	fromPh := pgPlaceholders(len(fromNLCs), next)
	next += len(fromNLCs)
	toPh := pgPlaceholders(len(toNLCs), next)
	next += len(toNLCs)

	query := fmt.Sprintf(`
SELECT fa.flow_id, fa.ticket_code, fa.fare_pence, t.tkt_group, t.tkt_type, t.discount_category, t.max_adults, t.max_children
FROM fares fa
JOIN flows fl ON fl.flow_id = fa.flow_id
JOIN ticket_types t ON t.ticket_code = fa.ticket_code
WHERE fl.origin_nlc IN (%s) AND fl.dest_nlc IN (%s) AND fl.start_date <= $%d AND fl.end_date >= $%d`,
		fromPh, toPh, next, next+1)
	args := append(pgArgs(fromNLCs), pgArgs(toNLCs)...)
	args = append(args, yyyymmdd, yyyymmdd)
	next += 2
	if toc != "" {
		query += fmt.Sprintf(" AND fl.toc = $%d", next)
		args = append(args, toc)
	}
	return s.scanFareTickets(ctx, query, args...)
}

func (s *PostgresStore) InternalFares(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error) {
	if len(toClusters) == 0 {
		return nil, nil
	}
	yyyymmdd := at.Year()*10000 + int(at.Month())*100 + at.Day()
	clusterPh := pgPlaceholders(len(toClusters), 1)
	next := 1 + len(toClusters)

	query := fmt.Sprintf(`
SELECT fa.flow_id, fa.ticket_code, fa.fare_pence, t.tkt_group, t.tkt_type, t.discount_category, t.max_adults, t.max_children
FROM fares fa
JOIN flows fl ON fl.flow_id = fa.flow_id
JOIN ticket_types t ON t.ticket_code = fa.ticket_code
JOIN station_clusters sc ON sc.location_nlc = fl.dest_nlc
LEFT JOIN locations l ON l.nlc = fl.dest_nlc
WHERE l.crs IS NULL AND sc.cluster_id IN (%s) AND fl.origin_nlc = $%d
  AND fl.start_date <= $%d AND fl.end_date >= $%d`, clusterPh, next, next+1, next+1)
	args := append(pgArgs(toClusters), fromNLC, yyyymmdd)
	next += 2
	if toc != "" {
		query += fmt.Sprintf(" AND fl.toc = $%d", next)
		args = append(args, toc)
	}
	return s.scanFareTickets(ctx, query, args...)
}

func (s *PostgresStore) InternalFaresReversed(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error) {
	if len(toClusters) == 0 {
		return nil, nil
	}
	yyyymmdd := at.Year()*10000 + int(at.Month())*100 + at.Day()
	clusterPh := pgPlaceholders(len(toClusters), 1)
	next := 1 + len(toClusters)

	query := fmt.Sprintf(`
SELECT fa.flow_id, fa.ticket_code, fa.fare_pence, t.tkt_group, t.tkt_type, t.discount_category, t.max_adults, t.max_children
FROM fares fa
JOIN flows fl ON fl.flow_id = fa.flow_id
JOIN ticket_types t ON t.ticket_code = fa.ticket_code
JOIN station_clusters sc ON sc.location_nlc = fl.origin_nlc
LEFT JOIN locations l ON l.nlc = fl.origin_nlc
WHERE l.crs IS NULL AND fl.direction = 'R' AND sc.cluster_id IN (%s) AND fl.dest_nlc = $%d
  AND fl.start_date <= $%d AND fl.end_date >= $%d`, clusterPh, next, next+1, next+1)
	args := append(pgArgs(toClusters), fromNLC, yyyymmdd)
	next += 2
	if toc != "" {
		query += fmt.Sprintf(" AND fl.toc = $%d", next)
		args = append(args, toc)
	}
	return s.scanFareTickets(ctx, query, args...)
}

func (s *PostgresStore) scanFareTickets(ctx context.Context, query string, args ...interface{}) ([]FareTicket, error) {
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

func (s *PostgresStore) IncidentsForTOC(ctx context.Context, toc string) ([]model.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT i.number, i.creation_time, i.planned, i.summary, i.description, i.cleared, i.route_affected_text
FROM incidents i
JOIN incident_operators io ON io.incident_number = i.number
WHERE io.toc = $1`, toc)
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

func (s *PostgresStore) NameToTIPLOCMap(ctx context.Context) (map[string]string, error) {
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

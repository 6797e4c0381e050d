package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"railplanner.dev/core/model"
)

// MemoryStore is the in-memory Store backend used by tests, mirroring
// storage.MemoryStorage's role in the teacher: a map-backed stand-in with
// the same interface, no SQL involved.
type MemoryStore struct {
	mu sync.Mutex

	locations        map[string]model.LocationRecord
	stationClusters  []model.StationCluster
	flows            []model.FlowRecord
	fares            []model.FareRecord
	ticketTypes      map[string]model.TicketType
	trainTimetables  map[string]model.TrainTimetable
	timetableLocs    []model.TimetableLocation
	tiplocs          map[string]model.TIPLOC
	timetableLinks   map[[2]string]bool
	incidents        map[string]model.Incident
	incidentOperators []model.IncidentAffectedOperator
	stations         map[string]model.Station
	expiry           map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations:       map[string]model.LocationRecord{},
		ticketTypes:     map[string]model.TicketType{},
		trainTimetables: map[string]model.TrainTimetable{},
		tiplocs:         map[string]model.TIPLOC{},
		timetableLinks:  map[[2]string]bool{},
		incidents:       map[string]model.Incident{},
		stations:        map[string]model.Station{},
		expiry:          map[string]int64{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Wipe(ctx context.Context, table Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case TableLocations:
		s.locations = map[string]model.LocationRecord{}
	case TableStationClusters:
		s.stationClusters = nil
	case TableFlows:
		s.flows = nil
	case TableFares:
		s.fares = nil
	case TableTicketTypes:
		s.ticketTypes = map[string]model.TicketType{}
	case TableTrainTimetables:
		s.trainTimetables = map[string]model.TrainTimetable{}
	case TableTimetableLocations:
		s.timetableLocs = nil
	case TableTIPLOCs:
		s.tiplocs = map[string]model.TIPLOC{}
	case TableTimetableLinks:
		s.timetableLinks = map[[2]string]bool{}
	case TableIncidents:
		s.incidents = map[string]model.Incident{}
	case TableIncidentOperators:
		s.incidentOperators = nil
	case TableStations:
		s.stations = map[string]model.Station{}
	default:
		return fmt.Errorf("memory store: unknown table %q", table)
	}
	return nil
}

func (s *MemoryStore) InsertLocationRecords(ctx context.Context, rows []model.LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.locations[r.CRS] = r
	}
	return nil
}

func (s *MemoryStore) InsertStationClusters(ctx context.Context, rows []model.StationCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stationClusters = append(s.stationClusters, rows...)
	return nil
}

func (s *MemoryStore) InsertFlowRecords(ctx context.Context, rows []model.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = append(s.flows, rows...)
	return nil
}

func (s *MemoryStore) InsertFareRecords(ctx context.Context, rows []model.FareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fares = append(s.fares, rows...)
	return nil
}

func (s *MemoryStore) InsertTicketTypes(ctx context.Context, rows []model.TicketType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.ticketTypes[r.TicketCode] = r
	}
	return nil
}

func (s *MemoryStore) BeginTrainTimetables(ctx context.Context) error { return nil }

func (s *MemoryStore) InsertTrainTimetables(ctx context.Context, rows []model.TrainTimetable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.trainTimetables[r.TrainUID] = r
	}
	return nil
}

func (s *MemoryStore) EndTrainTimetables(ctx context.Context) error { return nil }

func (s *MemoryStore) BeginTimetableLocations(ctx context.Context) error { return nil }

func (s *MemoryStore) InsertTimetableLocations(ctx context.Context, rows []model.TimetableLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timetableLocs = append(s.timetableLocs, rows...)
	return nil
}

func (s *MemoryStore) EndTimetableLocations(ctx context.Context) error { return nil }

func (s *MemoryStore) InsertTIPLOCs(ctx context.Context, rows []model.TIPLOC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tiplocs[r.TiplocCode] = r
	}
	return nil
}

func (s *MemoryStore) InsertIncidents(ctx context.Context, rows []model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.incidents[r.Number] = r
	}
	return nil
}

func (s *MemoryStore) InsertIncidentAffectedOperators(ctx context.Context, rows []model.IncidentAffectedOperator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidentOperators = append(s.incidentOperators, rows...)
	return nil
}

func (s *MemoryStore) InsertStations(ctx context.Context, rows []model.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.stations[r.CRS] = r
	}
	return nil
}

func (s *MemoryStore) GenerateTimetableLinks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timetableLinks = map[[2]string]bool{}

	byTrain := map[string][]model.TimetableLocation{}
	for _, l := range s.timetableLocs {
		byTrain[l.TrainUID] = append(byTrain[l.TrainUID], l)
	}
	for _, locs := range byTrain {
		sort.Slice(locs, func(i, j int) bool { return locs[i].TrainRouteIndex < locs[j].TrainRouteIndex })
		for i := 0; i+1 < len(locs); i++ {
			s.timetableLinks[[2]string{locs[i].Location, locs[i+1].Location}] = true
		}
	}
	return nil
}

func (s *MemoryStore) GetExpiry(ctx context.Context, apiURL string) (model.ExpiryTimes, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, found := s.expiry[apiURL]
	if !found {
		return model.ExpiryTimes{}, false, nil
	}
	return model.ExpiryTimes{APIURL: apiURL, ExpiryTimestamp: ts}, true, nil
}

func (s *MemoryStore) SetExpiry(ctx context.Context, apiURL string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry[apiURL] = expiry.Unix()
	return nil
}

func (s *MemoryStore) LinksFrom(ctx context.Context, locations []string) ([]model.TimetableLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, l := range locations {
		wanted[l] = true
	}
	var out []model.TimetableLink
	for k := range s.timetableLinks {
		if wanted[k[0]] {
			out = append(out, model.TimetableLink{FromLocation: k[0], ToLocation: k[1]})
		}
	}
	return out, nil
}

func (s *MemoryStore) TIPLOCForCRS(ctx context.Context, crs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, c := range crs {
		wanted[c] = true
	}
	out := map[string]string{}
	for _, t := range s.tiplocs {
		if wanted[t.CRSCode] {
			out[t.CRSCode] = t.TiplocCode
		}
	}
	return out, nil
}

func (s *MemoryStore) CRSForTIPLOC(ctx context.Context, tiplocs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, t := range tiplocs {
		if rec, found := s.tiplocs[t]; found {
			out[t] = rec.CRSCode
		}
	}
	return out, nil
}

func (s *MemoryStore) TimetableLocationsAt(ctx context.Context, location string, date time.Time) ([]model.TimetableLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	yyyymmdd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	var out []model.TimetableLocation
	for _, l := range s.timetableLocs {
		if l.Location != location {
			continue
		}
		t, found := s.trainTimetables[l.TrainUID]
		if !found {
			continue
		}
		if t.DateRunsFrom > yyyymmdd || t.DateRunsTo < yyyymmdd || !t.RunsOn(date.Weekday()) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrainUID != out[j].TrainUID {
			return out[i].TrainUID < out[j].TrainUID
		}
		return out[i].TrainRouteIndex < out[j].TrainRouteIndex
	})
	return out, nil
}

func (s *MemoryStore) TrainTimetable(ctx context.Context, uid string, date time.Time) (*model.TrainTimetable, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	yyyymmdd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	t, found := s.trainTimetables[uid]
	if !found || t.DateRunsFrom > yyyymmdd || t.DateRunsTo < yyyymmdd {
		return nil, false, nil
	}
	cp := t
	return &cp, true, nil
}

func (s *MemoryStore) ResolveClusters(ctx context.Context, crs []string) ([]ClusterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clustersByNLC := map[string][]string{}
	for _, sc := range s.stationClusters {
		clustersByNLC[sc.LocationNLC] = append(clustersByNLC[sc.LocationNLC], sc.ClusterID)
	}

	out := make([]ClusterSet, 0, len(crs))
	for _, c := range crs {
		loc, found := s.locations[c]
		if !found {
			continue
		}
		clusters := clustersByNLC[loc.NLC]
		if len(clusters) == 0 {
			clusters = []string{loc.NLC}
		}
		out = append(out, ClusterSet{CRS: c, NLC: loc.NLC, Clusters: clusters})
	}
	return out, nil
}

func (s *MemoryStore) dateActive(f model.FlowRecord, at time.Time) bool {
	yyyymmdd := at.Year()*10000 + int(at.Month())*100 + at.Day()
	return f.StartDate <= yyyymmdd && f.EndDate >= yyyymmdd
}

func containsAny(set []string, targets []string) bool {
	m := map[string]bool{}
	for _, t := range targets {
		m[t] = true
	}
	for _, s := range set {
		if m[s] {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ticketsForFlow(flowID int, toc string) []FareTicket {
	var out []FareTicket
	for _, fa := range s.fares {
		if fa.FlowID != flowID {
			continue
		}
		tt, found := s.ticketTypes[fa.TicketCode]
		if !found {
			continue
		}
		out = append(out, FareTicket{
			FlowID:      fa.FlowID,
			TicketCode:  fa.TicketCode,
			FarePence:   fa.FarePence,
			TktGroup:    tt.TktGroup,
			TktType:     model.TicketDirection(tt.TktType),
			Discount:    tt.DiscountCategory,
			MaxAdults:   tt.MaxAdults,
			MaxChildren: tt.MaxChildren,
		})
	}
	return out
}

func (s *MemoryStore) DirectFares(ctx context.Context, fromNLCs, toNLCs []string, toc string, at time.Time) ([]FareTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FareTicket
	for _, f := range s.flows {
		if !containsAny(fromNLCs, []string{f.OriginNLC}) || !containsAny(toNLCs, []string{f.DestNLC}) {
			continue
		}
		if toc != "" && f.TOC != toc {
			continue
		}
		if !s.dateActive(f, at) {
			continue
		}
		out = append(out, s.ticketsForFlow(f.FlowID, toc)...)
	}
	return out, nil
}

func (s *MemoryStore) hasLocation(nlc string) bool {
	for _, l := range s.locations {
		if l.NLC == nlc {
			return true
		}
	}
	return false
}

func (s *MemoryStore) clustersFor(nlc string) []string {
	var out []string
	for _, sc := range s.stationClusters {
		if sc.LocationNLC == nlc {
			out = append(out, sc.ClusterID)
		}
	}
	return out
}

func (s *MemoryStore) InternalFares(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FareTicket
	for _, f := range s.flows {
		if f.OriginNLC != fromNLC || s.hasLocation(f.DestNLC) {
			continue
		}
		if !containsAny(s.clustersFor(f.DestNLC), toClusters) {
			continue
		}
		if toc != "" && f.TOC != toc {
			continue
		}
		if !s.dateActive(f, at) {
			continue
		}
		out = append(out, s.ticketsForFlow(f.FlowID, toc)...)
	}
	return out, nil
}

func (s *MemoryStore) InternalFaresReversed(ctx context.Context, fromNLC string, toClusters []string, toc string, at time.Time) ([]FareTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FareTicket
	for _, f := range s.flows {
		if f.Direction != model.DirectionReturn || f.DestNLC != fromNLC || s.hasLocation(f.OriginNLC) {
			continue
		}
		if !containsAny(s.clustersFor(f.OriginNLC), toClusters) {
			continue
		}
		if toc != "" && f.TOC != toc {
			continue
		}
		if !s.dateActive(f, at) {
			continue
		}
		out = append(out, s.ticketsForFlow(f.FlowID, toc)...)
	}
	return out, nil
}

func (s *MemoryStore) IncidentsForTOC(ctx context.Context, toc string) ([]model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []model.Incident
	for _, op := range s.incidentOperators {
		if op.TOC != toc || seen[op.IncidentNumber] {
			continue
		}
		if inc, found := s.incidents[op.IncidentNumber]; found {
			seen[op.IncidentNumber] = true
			out = append(out, inc)
		}
	}
	return out, nil
}

func (s *MemoryStore) NameToTIPLOCMap(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCRS := map[string]string{}
	for _, t := range s.tiplocs {
		if t.CRSCode != "" {
			byCRS[t.CRSCode] = t.TiplocCode
		}
	}
	out := map[string]string{}
	for _, st := range s.stations {
		if tiploc, found := byCRS[st.CRS]; found {
			out[st.Name] = tiploc
		}
	}
	return out, nil
}

// Package model holds the value types shared across the ingestion and
// routing engines. No behaviour lives here beyond small accessors.
package model

import "time"

// LocationType mirrors spec.md's TimetableLocation.location_type.
type LocationType int

const (
	Origin LocationType = iota
	Intermediate
	Terminating
)

// TicketDirection is FlowRecord.direction: Single or Return.
type TicketDirection string

const (
	DirectionSingle TicketDirection = "S"
	DirectionReturn TicketDirection = "R"
)

// LocationRecord is one row per active physical station (DTD LOC feed).
type LocationRecord struct {
	CRS string
	NLC string
	UIC string
}

// StationCluster groups NLCs for zonal fares (DTD FSC feed).
type StationCluster struct {
	ClusterID    string
	LocationNLC  string
}

// FlowRecord is a directional fare corridor between two NLCs (DTD FFL feed).
type FlowRecord struct {
	FlowID      int
	OriginNLC   string
	DestNLC     string
	Direction   TicketDirection
	TOC         string
	StartDate   int // YYYYMMDD
	EndDate     int // YYYYMMDD, 29990101-ish sentinel means open-ended
}

// FareRecord is a priced ticket on a flow (DTD FFL feed).
type FareRecord struct {
	FlowID     int
	TicketCode string
	FarePence  int
}

// TicketType is the ticket catalog (DTD TTY feed).
type TicketType struct {
	TicketCode         string
	Description        string
	TktClass           int
	TktType            string // S or R
	TktGroup           string
	MaxPassengers      int
	MinPassengers      int
	MaxAdults          int
	MinAdults          int
	MaxChildren        int
	MinChildren        int
	RestrictedByDate   bool
	RestrictedByTrain  bool
	RestrictedByArea   bool
	ValidityCode       string
	ReservationRequired string
	CapriCode          string
	UTSCode            string
	TimeRestriction    int
	FreePassLUL        bool
	PackageMkr         string
	FareMultiplier     int
	DiscountCategory   string
}

// TrainTimetable is one scheduled service (DTD MCA feed, BS/BX lines).
type TrainTimetable struct {
	TrainUID           string
	DateRunsFrom       int // YYYYMMDD
	DateRunsTo         int // YYYYMMDD
	Monday             bool
	Tuesday            bool
	Wednesday          bool
	Thursday           bool
	Friday             bool
	Saturday           bool
	Sunday             bool
	BankHolidayRunning bool
	RSID               string
	TOC                string
}

// RunsOn reports whether the weekday bit for the given time.Weekday is set.
func (t *TrainTimetable) RunsOn(day time.Weekday) bool {
	switch day {
	case time.Monday:
		return t.Monday
	case time.Tuesday:
		return t.Tuesday
	case time.Wednesday:
		return t.Wednesday
	case time.Thursday:
		return t.Thursday
	case time.Friday:
		return t.Friday
	case time.Saturday:
		return t.Saturday
	case time.Sunday:
		return t.Sunday
	}
	return false
}

// TimetableLocation is one ordered stop along a service (DTD MCA LO/LI/LT lines).
type TimetableLocation struct {
	TrainUID               string
	TrainRouteIndex        int
	LocationType           LocationType
	Location               string // TIPLOC
	ScheduledArrivalTime   int    // hour*100+minute, 0 if absent
	ScheduledDepartureTime int    // hour*100+minute, 0 if absent
	PublicArrival          string // HHMM, blank if absent
	PublicDeparture        string // HHMM, blank if absent
	Platform               string
	Line                   string
	Path                   string
	Activity               string
	EngineeringAllowance   string
	PathingAllowance       string
	PerformanceAllowance   string
}

// TIPLOC maps a timing point to its CRS code (DTD MCA TI lines).
type TIPLOC struct {
	TiplocCode  string
	CRSCode     string
	Description string
}

// TimetableLink is precomputed adjacency: from visits to immediately
// (spec.md §3 invariant 2).
type TimetableLink struct {
	FromLocation string
	ToLocation   string
}

// Incident is a KB incidents XML entry.
type Incident struct {
	Number            string
	CreationTime      time.Time
	Planned           bool
	Summary           string
	Description       string
	Cleared           bool
	RouteAffectedText string
}

// IncidentAffectedOperator is one operator listed against an incident.
type IncidentAffectedOperator struct {
	IncidentNumber string
	TOC            string
	OperatorName   string
}

// Station is a display name for a CRS code (KB stations XML).
type Station struct {
	CRS  string
	Name string
}

// ExpiryTimes tracks the next allowed refresh time per feed, keyed by the
// feed's stable API URL identity.
type ExpiryTimes struct {
	APIURL          string
	ExpiryTimestamp int64
}

// TrainRouteSegment names which train-path to ride between two TIPLOCs,
// without yet binding to a specific service instance.
type TrainRouteSegment struct {
	Path         TrainPath
	StartLoc     string
	StopLoc      string
}

// TrainPath is the ordered tuple of TIPLOCs a service's stops collapse to.
type TrainPath []string

// Key renders a TrainPath as a comparable map key.
func (p TrainPath) Key() string {
	s := ""
	for i, loc := range p {
		if i > 0 {
			s += ">"
		}
		s += loc
	}
	return s
}

// TrainRoute is an ordered sequence of segments walking an origin to a
// destination, at most 3 changes (spec.md §4.10).
type TrainRoute []TrainRouteSegment

// JourneySegment binds a TrainRouteSegment to a concrete service instance.
type JourneySegment struct {
	Train *TrainTimetable
	Start TimetableLocation
	End   TimetableLocation
}

// Journey is a concrete, ordered sequence of train rides.
type Journey []JourneySegment

// DepartureTime returns the time the journey leaves its first stop.
func (j Journey) DepartureTime() int {
	if len(j) == 0 {
		return 0
	}
	return j[0].Start.ScheduledDepartureTime
}

// ArrivalTime returns the time the journey reaches its last stop.
func (j Journey) ArrivalTime() int {
	if len(j) == 0 {
		return 0
	}
	return j[len(j)-1].End.ScheduledArrivalTime
}

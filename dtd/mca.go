package dtd

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

// mcaState tracks the candidate train being assembled across BS/BX/LO/
// LI/LT lines, mirroring dtd.py's State dataclass. It resets on every
// BS line; duplicateTrains is the only thing that survives a reset,
// since it must catch duplicates across the whole file.
type mcaState struct {
	current         *model.TrainTimetable
	routeIndex      int
	terminated      bool
	hasExtraDetails bool
	duplicateTrains map[string]bool
}

func newMCAState() *mcaState {
	return &mcaState{duplicateTrains: map[string]bool{}}
}

func (s *mcaState) reset() {
	s.current = nil
	s.routeIndex = 0
	s.terminated = false
	s.hasExtraDetails = false
}

// ParseMCA reads an MCA timetable file, mirroring record_for_mca_entry's
// per-line dispatch: BS opens a candidate train, BX supplies its
// rsid/toc, LO/LI/LT emit TimetableLocation rows (LT also emits the
// deferred TrainTimetable header), and TI emits TIPLOC rows
// independently of train assembly.
func ParseMCA(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	scanner := bufio.NewScanner(bom.NewReader(r))
	state := newMCAState()
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if len(line) < 2 {
			continue
		}

		if err := dispatchMCALine(ctx, line[0:2], line, state, chunks); err != nil {
			return errors.Wrapf(err, "MCA row %d", lineNo)
		}
	}
	return errors.Wrap(scanner.Err(), "reading MCA file")
}

func dispatchMCALine(ctx context.Context, entryType, line string, state *mcaState, chunks *feed.RecordChunker) error {
	switch entryType {
	case "BS":
		return mcaBS(line, state)
	case "BX":
		return mcaBX(line, state)
	case "LO":
		return mcaLO(ctx, line, state, chunks)
	case "LI":
		return mcaLI(ctx, line, state, chunks)
	case "LT":
		return mcaLT(ctx, line, state, chunks)
	case "TI":
		return mcaTI(ctx, line, chunks)
	}
	return nil
}

func mcaBS(line string, state *mcaState) error {
	state.reset()

	trainUID, err := field(line, 3, 9)
	if err != nil {
		return err
	}
	if state.duplicateTrains[trainUID] {
		return nil
	}
	state.duplicateTrains[trainUID] = true

	fromRaw, err := field(line, 9, 15)
	if err != nil {
		return err
	}
	toRaw, err := field(line, 15, 21)
	if err != nil {
		return err
	}
	daysRun, err := field(line, 21, 28)
	if err != nil {
		return err
	}
	bhRunning, err := field(line, 28, 29)
	if err != nil {
		return err
	}

	from, err := parseDateYYMMDD(fromRaw)
	if err != nil {
		return errors.Wrap(err, "date_runs_from")
	}
	to, err := parseDateYYMMDD(toRaw)
	if err != nil {
		return errors.Wrap(err, "date_runs_to")
	}
	if len(daysRun) < 7 {
		return errors.New("days_run field too short")
	}

	state.current = &model.TrainTimetable{
		TrainUID:           trainUID,
		DateRunsFrom:       dateToSQL(from),
		DateRunsTo:         dateToSQL(to),
		Monday:             daysRun[0] == '1',
		Tuesday:            daysRun[1] == '1',
		Wednesday:          daysRun[2] == '1',
		Thursday:           daysRun[3] == '1',
		Friday:             daysRun[4] == '1',
		Saturday:           daysRun[5] == '1',
		Sunday:             daysRun[6] == '1',
		BankHolidayRunning: bhRunning == "Y",
	}
	return nil
}

func mcaBX(line string, state *mcaState) error {
	if state.current == nil {
		return nil
	}

	toc, err := field(line, 11, 13)
	if err != nil {
		return err
	}
	rsid, err := field(line, 14, 22)
	if err != nil {
		return err
	}
	state.current.TOC = toc
	state.current.RSID = rsid
	state.hasExtraDetails = true
	return nil
}

func mcaLO(ctx context.Context, line string, state *mcaState, chunks *feed.RecordChunker) error {
	if state.current == nil || !state.hasExtraDetails {
		return nil
	}

	location, err := field(line, 2, 10)
	if err != nil {
		return err
	}
	depRaw, err := field(line, 10, 15)
	if err != nil {
		return err
	}
	pubDepRaw, err := field(line, 15, 19)
	if err != nil {
		return err
	}
	platform, err := field(line, 19, 22)
	if err != nil {
		return err
	}
	routeLine, err := field(line, 22, 25)
	if err != nil {
		return err
	}
	engAllow, err := field(line, 25, 27)
	if err != nil {
		return err
	}
	pathAllow, err := field(line, 27, 29)
	if err != nil {
		return err
	}
	activity, err := field(line, 39, 41)
	if err != nil {
		return err
	}
	perfAllow, err := field(line, 41, 43)
	if err != nil {
		return err
	}

	depHour, depMin, err := parseClockTime(depRaw)
	if err != nil {
		return errors.Wrap(err, "scheduled_departure_time")
	}
	pubDepHour, pubDepMin, err := parseClockTime(pubDepRaw)
	if err != nil {
		return errors.Wrap(err, "public_departure")
	}

	state.routeIndex++
	row := model.TimetableLocation{
		TrainUID:               state.current.TrainUID,
		TrainRouteIndex:        state.routeIndex - 1,
		LocationType:           model.Origin,
		Location:               strings.TrimSpace(location),
		ScheduledDepartureTime: timeToSQL(depHour, depMin),
		PublicDeparture:        publicTimeString(pubDepHour, pubDepMin, pubDepRaw),
		Platform:               strings.TrimSpace(platform),
		Line:                   strings.TrimSpace(routeLine),
		EngineeringAllowance:   strings.TrimSpace(engAllow),
		PathingAllowance:       strings.TrimSpace(pathAllow),
		Activity:               strings.TrimSpace(activity),
		PerformanceAllowance:   strings.TrimSpace(perfAllow),
	}
	return chunks.Put(ctx, store.TableTimetableLocations, row)
}

func mcaLI(ctx context.Context, line string, state *mcaState, chunks *feed.RecordChunker) error {
	if state.current == nil || !state.hasExtraDetails {
		return nil
	}

	scheduledPass, err := field(line, 20, 25)
	if err != nil {
		return err
	}
	if strings.TrimSpace(scheduledPass) != "" {
		// Train does not stop here.
		return nil
	}

	location, err := field(line, 2, 10)
	if err != nil {
		return err
	}
	arrRaw, err := field(line, 10, 15)
	if err != nil {
		return err
	}
	depRaw, err := field(line, 15, 20)
	if err != nil {
		return err
	}
	pubArrRaw, err := field(line, 25, 29)
	if err != nil {
		return err
	}
	pubDepRaw, err := field(line, 29, 33)
	if err != nil {
		return err
	}
	platform, err := field(line, 33, 36)
	if err != nil {
		return err
	}
	routeLine, err := field(line, 36, 39)
	if err != nil {
		return err
	}
	path, err := field(line, 39, 42)
	if err != nil {
		return err
	}
	activity, err := field(line, 42, 54)
	if err != nil {
		return err
	}
	engAllow, err := field(line, 54, 56)
	if err != nil {
		return err
	}
	pathAllow, err := field(line, 56, 58)
	if err != nil {
		return err
	}
	perfAllow, err := field(line, 58, 60)
	if err != nil {
		return err
	}

	arrHour, arrMin, err := parseClockTime(arrRaw)
	if err != nil {
		return errors.Wrap(err, "scheduled_arrival_time")
	}
	depHour, depMin, err := parseClockTime(depRaw)
	if err != nil {
		return errors.Wrap(err, "scheduled_departure_time")
	}
	pubArrHour, pubArrMin, err := parseClockTime(pubArrRaw)
	if err != nil {
		return errors.Wrap(err, "public_arrival")
	}
	pubDepHour, pubDepMin, err := parseClockTime(pubDepRaw)
	if err != nil {
		return errors.Wrap(err, "public_departure")
	}

	state.routeIndex++
	row := model.TimetableLocation{
		TrainUID:               state.current.TrainUID,
		TrainRouteIndex:        state.routeIndex - 1,
		LocationType:           model.Intermediate,
		Location:               strings.TrimSpace(location),
		ScheduledArrivalTime:   timeToSQL(arrHour, arrMin),
		ScheduledDepartureTime: timeToSQL(depHour, depMin),
		PublicArrival:          publicTimeString(pubArrHour, pubArrMin, pubArrRaw),
		PublicDeparture:        publicTimeString(pubDepHour, pubDepMin, pubDepRaw),
		Platform:               strings.TrimSpace(platform),
		Line:                   strings.TrimSpace(routeLine),
		Path:                   strings.TrimSpace(path),
		Activity:               strings.TrimSpace(activity),
		EngineeringAllowance:   strings.TrimSpace(engAllow),
		PathingAllowance:       strings.TrimSpace(pathAllow),
		PerformanceAllowance:   strings.TrimSpace(perfAllow),
	}
	return chunks.Put(ctx, store.TableTimetableLocations, row)
}

func mcaLT(ctx context.Context, line string, state *mcaState, chunks *feed.RecordChunker) error {
	if state.current == nil || !state.hasExtraDetails || state.terminated {
		return nil
	}
	state.terminated = true

	location, err := field(line, 2, 10)
	if err != nil {
		return err
	}
	arrRaw, err := field(line, 10, 15)
	if err != nil {
		return err
	}
	pubArrRaw, err := field(line, 15, 19)
	if err != nil {
		return err
	}
	platform, err := field(line, 19, 22)
	if err != nil {
		return err
	}
	path, err := field(line, 22, 25)
	if err != nil {
		return err
	}
	activity, err := field(line, 25, 37)
	if err != nil {
		return err
	}

	arrHour, arrMin, err := parseClockTime(arrRaw)
	if err != nil {
		return errors.Wrap(err, "scheduled_arrival_time")
	}
	pubArrHour, pubArrMin, err := parseClockTime(pubArrRaw)
	if err != nil {
		return errors.Wrap(err, "public_arrival")
	}

	if err := chunks.Put(ctx, store.TableTrainTimetables, *state.current); err != nil {
		return err
	}

	row := model.TimetableLocation{
		TrainUID:             state.current.TrainUID,
		TrainRouteIndex:      state.routeIndex,
		LocationType:         model.Terminating,
		Location:             strings.TrimSpace(location),
		ScheduledArrivalTime: timeToSQL(arrHour, arrMin),
		PublicArrival:        publicTimeString(pubArrHour, pubArrMin, pubArrRaw),
		Platform:             strings.TrimSpace(platform),
		Path:                 strings.TrimSpace(path),
		Activity:             strings.TrimSpace(activity),
	}
	return chunks.Put(ctx, store.TableTimetableLocations, row)
}

func mcaTI(ctx context.Context, line string, chunks *feed.RecordChunker) error {
	tiploc, err := field(line, 2, 9)
	if err != nil {
		return err
	}
	crs, err := field(line, 53, 56)
	if err != nil {
		return err
	}
	description, err := field(line, 56, 72)
	if err != nil {
		return err
	}

	row := model.TIPLOC{
		TiplocCode:  strings.TrimSpace(tiploc),
		CRSCode:     crs,
		Description: strings.TrimSpace(description),
	}
	return chunks.Put(ctx, store.TableTIPLOCs, row)
}

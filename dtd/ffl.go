package dtd

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

// ParseFFL reads a FFL file into FlowRecord (RF lines) and FareRecord
// (RT lines) rows, mirroring record_for_ffl_entry. A flow that has
// expired is remembered for the rest of the file so its RT fares are
// dropped too, even though the RT lines carry no date of their own.
func ParseFFL(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	scanner := bufio.NewScanner(bom.NewReader(r))
	expiredFlows := map[int]bool{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if len(line) < 2 {
			continue
		}

		switch line[0:2] {
		case "RF":
			flowID, row, expired, err := parseFFLFlowLine(line)
			if err != nil {
				return errors.Wrapf(err, "FFL row %d", lineNo)
			}
			if expired {
				expiredFlows[flowID] = true
				continue
			}
			if err := chunks.Put(ctx, store.TableFlows, row); err != nil {
				return errors.Wrapf(err, "FFL row %d", lineNo)
			}
		case "RT":
			flowID, row, err := parseFFLFareLine(line)
			if err != nil {
				return errors.Wrapf(err, "FFL row %d", lineNo)
			}
			if expiredFlows[flowID] {
				continue
			}
			if err := chunks.Put(ctx, store.TableFares, row); err != nil {
				return errors.Wrapf(err, "FFL row %d", lineNo)
			}
		}
	}
	return errors.Wrap(scanner.Err(), "reading FFL file")
}

func parseFFLFlowLine(line string) (int, model.FlowRecord, bool, error) {
	flowIDRaw, err := field(line, 42, 49)
	if err != nil {
		return 0, model.FlowRecord{}, false, err
	}
	flowID, err := strconv.Atoi(strings.TrimSpace(flowIDRaw))
	if err != nil {
		return 0, model.FlowRecord{}, false, errors.Wrap(err, "flow_id")
	}

	endRaw, err := field(line, 20, 28)
	if err != nil {
		return flowID, model.FlowRecord{}, false, err
	}
	startRaw, err := field(line, 28, 36)
	if err != nil {
		return flowID, model.FlowRecord{}, false, err
	}
	start, err := parseDateDDMMYYYY(startRaw)
	if err != nil {
		return flowID, model.FlowRecord{}, false, errors.Wrap(err, "start date")
	}
	end, err := parseDateDDMMYYYY(endRaw)
	if err != nil {
		return flowID, model.FlowRecord{}, false, errors.Wrap(err, "end date")
	}
	if hasExpired(start, end) {
		return flowID, model.FlowRecord{}, true, nil
	}

	origin, err := field(line, 2, 6)
	if err != nil {
		return flowID, model.FlowRecord{}, false, err
	}
	dest, err := field(line, 6, 10)
	if err != nil {
		return flowID, model.FlowRecord{}, false, err
	}
	direction, err := field(line, 19, 20)
	if err != nil {
		return flowID, model.FlowRecord{}, false, err
	}
	toc, err := field(line, 36, 39)
	if err != nil {
		return flowID, model.FlowRecord{}, false, err
	}

	return flowID, model.FlowRecord{
		FlowID:    flowID,
		OriginNLC: origin,
		DestNLC:   dest,
		Direction: model.TicketDirection(direction),
		TOC:       toc,
		StartDate: dateToSQL(start),
		EndDate:   dateToSQL(end),
	}, false, nil
}

func parseFFLFareLine(line string) (int, model.FareRecord, error) {
	flowIDRaw, err := field(line, 2, 9)
	if err != nil {
		return 0, model.FareRecord{}, err
	}
	flowID, err := strconv.Atoi(strings.TrimSpace(flowIDRaw))
	if err != nil {
		return 0, model.FareRecord{}, errors.Wrap(err, "flow_id")
	}

	ticketCode, err := field(line, 9, 12)
	if err != nil {
		return flowID, model.FareRecord{}, err
	}
	fareRaw, err := field(line, 12, 20)
	if err != nil {
		return flowID, model.FareRecord{}, err
	}
	fare, err := strconv.Atoi(strings.TrimSpace(fareRaw))
	if err != nil {
		return flowID, model.FareRecord{}, errors.Wrap(err, "fare")
	}

	return flowID, model.FareRecord{
		FlowID:     flowID,
		TicketCode: ticketCode,
		FarePence:  fare,
	}, nil
}

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

// ParseLOC reads a LOC file's RL lines into LocationRecord rows,
// mirroring record_for_loc_entry: expired windows and blank CRS codes
// are silently skipped, not errors.
func ParseLOC(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	scanner := bufio.NewScanner(bom.NewReader(r))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if len(line) < 2 || line[0:2] != "RL" {
			continue
		}

		row, ok, err := parseLOCLine(line)
		if err != nil {
			return errors.Wrapf(err, "LOC row %d", lineNo)
		}
		if !ok {
			continue
		}
		if err := chunks.Put(ctx, store.TableLocations, row); err != nil {
			return errors.Wrapf(err, "LOC row %d", lineNo)
		}
	}
	return errors.Wrap(scanner.Err(), "reading LOC file")
}

func parseLOCLine(line string) (model.LocationRecord, bool, error) {
	startRaw, err := field(line, 9, 17)
	if err != nil {
		return model.LocationRecord{}, false, err
	}
	endRaw, err := field(line, 17, 25)
	if err != nil {
		return model.LocationRecord{}, false, err
	}
	start, err := parseDateDDMMYYYY(startRaw)
	if err != nil {
		return model.LocationRecord{}, false, errors.Wrap(err, "start date")
	}
	end, err := parseDateDDMMYYYY(endRaw)
	if err != nil {
		return model.LocationRecord{}, false, errors.Wrap(err, "end date")
	}
	if hasExpired(start, end) {
		return model.LocationRecord{}, false, nil
	}

	crs, err := field(line, 56, 59)
	if err != nil {
		return model.LocationRecord{}, false, err
	}
	if strings.TrimSpace(crs) == "" {
		return model.LocationRecord{}, false, nil
	}

	uic, err := field(line, 2, 9)
	if err != nil {
		return model.LocationRecord{}, false, err
	}
	ncl, err := field(line, 36, 40)
	if err != nil {
		return model.LocationRecord{}, false, err
	}

	return model.LocationRecord{
		CRS: crs,
		NLC: ncl,
		UIC: uic,
	}, true, nil
}

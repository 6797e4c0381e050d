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

// ParseFSC reads a FSC file into StationCluster rows, mirroring
// record_for_fsc_entry: blank lines and comment rows (leading '/') are
// skipped, as are expired cluster windows.
func ParseFSC(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	scanner := bufio.NewScanner(bom.NewReader(r))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if len(line) == 0 || line[0] == '/' {
			continue
		}

		row, ok, err := parseFSCLine(line)
		if err != nil {
			return errors.Wrapf(err, "FSC row %d", lineNo)
		}
		if !ok {
			continue
		}
		if err := chunks.Put(ctx, store.TableStationClusters, row); err != nil {
			return errors.Wrapf(err, "FSC row %d", lineNo)
		}
	}
	return errors.Wrap(scanner.Err(), "reading FSC file")
}

func parseFSCLine(line string) (model.StationCluster, bool, error) {
	startRaw, err := field(line, 17, 25)
	if err != nil {
		return model.StationCluster{}, false, err
	}
	endRaw, err := field(line, 9, 17)
	if err != nil {
		return model.StationCluster{}, false, err
	}
	start, err := parseDateDDMMYYYY(startRaw)
	if err != nil {
		return model.StationCluster{}, false, errors.Wrap(err, "start date")
	}
	end, err := parseDateDDMMYYYY(endRaw)
	if err != nil {
		return model.StationCluster{}, false, errors.Wrap(err, "end date")
	}
	if hasExpired(start, end) {
		return model.StationCluster{}, false, nil
	}

	clusterID, err := field(line, 1, 5)
	if err != nil {
		return model.StationCluster{}, false, err
	}
	nlc, err := field(line, 5, 9)
	if err != nil {
		return model.StationCluster{}, false, err
	}

	return model.StationCluster{
		ClusterID:   clusterID,
		LocationNLC: nlc,
	}, true, nil
}

package dtd_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/dtd"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/store"
)

// fixedRFLine builds an RF row: type[0:2] origin[2:6] dest[6:10]
// ...[19]direction ...[20:28]end [28:36]start ...[36:39]toc
// ...[42:49]flow_id.
func fixedRFLine(origin, dest, direction, endDDMMYYYY, startDDMMYYYY, toc, flowID string) string {
	b := make([]byte, 49)
	for i := range b {
		b[i] = ' '
	}
	copy(b[0:2], "RF")
	copy(b[2:6], origin)
	copy(b[6:10], dest)
	copy(b[19:20], direction)
	copy(b[20:28], endDDMMYYYY)
	copy(b[28:36], startDDMMYYYY)
	copy(b[36:39], toc)
	copy(b[42:49], flowID)
	return string(b)
}

// fixedRTLine builds an RT row: type[0:2] flow_id[2:9] ticket[9:12]
// fare[12:20].
func fixedRTLine(flowID, ticket, fare string) string {
	b := make([]byte, 20)
	for i := range b {
		b[i] = ' '
	}
	copy(b[0:2], "RT")
	copy(b[2:9], flowID)
	copy(b[9:12], ticket)
	copy(b[12:20], fare)
	return string(b)
}

func TestParseFFLDropsFaresOnExpiredFlow(t *testing.T) {
	expiredFlow := fixedRFLine("AAAA", "BBBB", "S", "01012001", "01012000", "XX ", "0000001")
	activeFlow := fixedRFLine("CCCC", "DDDD", "S", "01012999", "01012021", "YY ", "0000002")
	expiredFare := fixedRTLine("0000001", "SVR", "00001000")
	activeFare := fixedRTLine("0000002", "SVR", "00002500")

	ch := make(chan feed.RecordSet, 16)
	chunker := feed.NewRecordChunker(ch)
	r := strings.NewReader(strings.Join([]string{expiredFlow, activeFlow, expiredFare, activeFare}, "\n") + "\n")
	require.NoError(t, dtd.ParseFFL(context.Background(), r, chunker))
	require.NoError(t, chunker.Close(context.Background()))
	close(ch)

	var flows, fares []interface{}
	for chunk := range ch {
		flows = append(flows, chunk[store.TableFlows]...)
		fares = append(fares, chunk[store.TableFares]...)
	}

	require.Len(t, flows, 1, "only the active flow should be written")
	require.Len(t, fares, 1, "the fare tied to the expired flow must be dropped")
}

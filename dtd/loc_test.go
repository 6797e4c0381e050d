package dtd_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/dtd"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

func collectChunks(t *testing.T, parse func(ch chan feed.RecordSet)) []feed.RecordSet {
	t.Helper()
	ch := make(chan feed.RecordSet, 16)
	parse(ch)
	close(ch)

	var out []feed.RecordSet
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out
}

func onlyRows(t *testing.T, chunks []feed.RecordSet, table store.Table) []interface{} {
	t.Helper()
	var rows []interface{}
	for _, c := range chunks {
		rows = append(rows, c[table]...)
	}
	return rows
}

func TestParseLOCSkipsBlankCRSAndExpired(t *testing.T) {
	line := fixedLOCLine(t, "1234567", "01012021", "01012999", "ABCD", "CRS")
	blankCRS := fixedLOCLine(t, "7654321", "01012021", "01012999", "WXYZ", "   ")
	expired := fixedLOCLine(t, "1112223", "01012000", "01012001", "ABCD", "XYZ")

	chunks := collectChunks(t, func(ch chan feed.RecordSet) {
		chunker := feed.NewRecordChunker(ch)
		r := strings.NewReader(strings.Join([]string{line, blankCRS, expired}, "\n") + "\n")
		require.NoError(t, dtd.ParseLOC(context.Background(), r, chunker))
		require.NoError(t, chunker.Close(context.Background()))
	})

	rows := onlyRows(t, chunks, store.TableLocations)
	require.Len(t, rows, 1)
	require.Equal(t, model.LocationRecord{CRS: "CRS", NLC: "ABCD", UIC: "1234567"}, rows[0])
}

// fixedLOCLine builds a synthetic RL row with the exact column layout
// record_for_loc_entry expects: type[0:2] uic[2:9] ...[9:17]start
// [17:25]end ... ncl[36:40] ... crs[56:59].
func fixedLOCLine(t *testing.T, uic, startDDMMYYYY, endDDMMYYYY, ncl, crs string) string {
	t.Helper()
	b := make([]byte, 59)
	for i := range b {
		b[i] = ' '
	}
	copy(b[0:2], "RL")
	copy(b[2:9], uic)
	copy(b[9:17], startDDMMYYYY)
	copy(b[17:25], endDDMMYYYY)
	copy(b[36:40], ncl)
	copy(b[56:59], crs)
	return string(b)
}

package dtd_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/dtd"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

func writeZip(t *testing.T, dir, zipName string, files map[string]string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, zipName))
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, body := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestFaresFeedParsesAllFourFiles(t *testing.T) {
	dir := t.TempDir()
	loc := fixedLOCLine(t, "1234567", "01012021", "01012999", "ABCD", "CRS") + "\n"
	fsc := fixedFSCLine("CL01", "NLC1", "01012999", "01012021") + "\n"
	ffl := fixedRFLine("AAAA", "BBBB", "S", "01012999", "01012021", "XX ", "0000001") + "\n" +
		fixedRTLine("0000001", "SVR", "00001000") + "\n"
	tty := fixedTTYLine("SVR", "01012999", "01012021", "Saver") + "\n"

	writeZip(t, dir, "FARES.ZIP", map[string]string{
		"RJLOA499.LOC": loc,
		"RJFAF499.FFL": ffl,
		"RJSCF499.FSC": fsc,
		"RJTTF499.TTY": tty,
	})

	f := dtd.FaresFeed{}
	ch := make(chan feed.RecordSet, 16)
	chunker := feed.NewRecordChunker(ch)
	require.NoError(t, f.ParseInto(context.Background(), dir, chunker, progress.New()))
	require.NoError(t, chunker.Close(context.Background()))
	close(ch)

	counts := map[store.Table]int{}
	for chunk := range ch {
		for table, rows := range chunk {
			counts[table] += len(rows)
		}
	}

	require.Equal(t, 1, counts[store.TableLocations])
	require.Equal(t, 1, counts[store.TableStationClusters])
	require.Equal(t, 1, counts[store.TableFlows])
	require.Equal(t, 1, counts[store.TableFares])
	require.Equal(t, 1, counts[store.TableTicketTypes])
}

func TestTimetableFeedParsesMCAFileAndRegeneratesLinks(t *testing.T) {
	dir := t.TempDir()
	mca := buildBS("A00001", "230101", "231231", "1111100", true) + "\n" +
		buildBX("VT", "A00001 ") + "\n" +
		buildLO("EUSTON  ", "10000", "1000") + "\n" +
		buildLT("BHAMNS  ", "11000", "1100") + "\n" +
		buildTI("EUSTON ", "EUS", "London Euston") + "\n"

	writeZip(t, dir, "TIMETABLE.ZIP", map[string]string{
		"RJRTTF99.MCA": mca,
	})

	f := dtd.TimetableFeed{}
	ch := make(chan feed.RecordSet, 16)
	chunker := feed.NewRecordChunker(ch)
	require.NoError(t, f.ParseInto(context.Background(), dir, chunker, progress.New()))
	require.NoError(t, chunker.Close(context.Background()))
	close(ch)

	counts := map[store.Table]int{}
	for chunk := range ch {
		for table, rows := range chunk {
			counts[table] += len(rows)
		}
	}
	require.Equal(t, 1, counts[store.TableTrainTimetables])
	require.Equal(t, 2, counts[store.TableTimetableLocations])
	require.Equal(t, 1, counts[store.TableTIPLOCs])

	s := store.NewMemoryStore()
	defer s.Close()
	require.NoError(t, f.PreprocessHook(context.Background(), s))
}

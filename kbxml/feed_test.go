package kbxml_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/kbxml"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

func TestIncidentsFeedParsesFileFromWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "INCIDENTS.XML"), []byte(incidentsXML), 0o644))

	f := kbxml.IncidentsFeed{}
	ch := make(chan feed.RecordSet, 16)
	chunker := feed.NewRecordChunker(ch)
	require.NoError(t, f.ParseInto(context.Background(), dir, chunker, progress.New()))
	require.NoError(t, chunker.Close(context.Background()))
	close(ch)

	count := 0
	for chunk := range ch {
		count += len(chunk[store.TableIncidents])
	}
	require.Equal(t, 1, count)
}

func TestStationsFeedParsesFileFromWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "STATIONS.XML"), []byte(stationsXML), 0o644))

	f := kbxml.StationsFeed{}
	ch := make(chan feed.RecordSet, 16)
	chunker := feed.NewRecordChunker(ch)
	require.NoError(t, f.ParseInto(context.Background(), dir, chunker, progress.New()))
	require.NoError(t, chunker.Close(context.Background()))
	close(ch)

	count := 0
	for chunk := range ch {
		count += len(chunk[store.TableStations])
	}
	require.Equal(t, 2, count)
}

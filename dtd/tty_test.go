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

func fixedTTYLine(ticketCode, endDDMMYYYY, startDDMMYYYY, description string) string {
	b := blankLine(113)
	setAt(b, 0, "R")
	setAt(b, 1, ticketCode)
	setAt(b, 4, endDDMMYYYY)
	setAt(b, 12, startDDMMYYYY)
	setAt(b, 28, description)
	setAt(b, 43, "1")
	setAt(b, 44, "S")
	setAt(b, 45, "S")
	setAt(b, 54, "009")
	setAt(b, 57, "001")
	setAt(b, 60, "009")
	setAt(b, 63, "001")
	setAt(b, 66, "009")
	setAt(b, 69, "000")
	setAt(b, 105, "0")
	setAt(b, 108, "100")
	return string(b)
}

func TestParseTTYSkipsExpired(t *testing.T) {
	active := fixedTTYLine("SVR", "01012999", "01012021", "Saver")
	expired := fixedTTYLine("OLD", "01012001", "01012000", "Retired")

	ch := make(chan feed.RecordSet, 16)
	chunker := feed.NewRecordChunker(ch)
	r := strings.NewReader(strings.Join([]string{active, expired}, "\n") + "\n")
	require.NoError(t, dtd.ParseTTY(context.Background(), r, chunker))
	require.NoError(t, chunker.Close(context.Background()))
	close(ch)

	var rows []interface{}
	for chunk := range ch {
		rows = append(rows, chunk[store.TableTicketTypes]...)
	}

	require.Len(t, rows, 1)
	ticket := rows[0].(model.TicketType)
	require.Equal(t, "SVR", ticket.TicketCode)
	require.Equal(t, "Saver", ticket.Description)
	require.Equal(t, 1, ticket.TktClass)
	require.Equal(t, 9, ticket.MaxPassengers)
	require.Equal(t, 100, ticket.FareMultiplier)
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"railplanner.dev/core/fares"
)

var (
	fareExportDate string
	fareExportOut  string
)

// fareRow is one priced ticket in the exported CSV, mirroring the
// teacher's gocsv tagging style (parse/agency.go and friends).
type fareRow struct {
	TicketCode string `csv:"ticket_code"`
	TktGroup   string `csv:"tkt_group"`
	TktType    string `csv:"tkt_type"`
	FarePence  int    `csv:"fare_pence"`
}

var farexportCmd = &cobra.Command{
	Use:   "farexport <from-crs> <to-crs>",
	Short: "export priced tickets between two stations as CSV",
	Args:  cobra.ExactArgs(2),
	RunE:  runFareExport,
}

func init() {
	farexportCmd.Flags().StringVarP(&fareExportDate, "date", "", time.Now().Format("2006-01-02"), "date to price fares on, YYYY-MM-DD")
	farexportCmd.Flags().StringVarP(&toc, "toc", "", "", "restrict to one train operating company")
	farexportCmd.Flags().StringVarP(&fareExportOut, "out", "", "", "output file (defaults to stdout)")
}

func runFareExport(cmd *cobra.Command, args []string) error {
	fromCRS, toCRS := args[0], args[1]

	date, err := time.Parse("2006-01-02", fareExportDate)
	if err != nil {
		return fmt.Errorf("parsing --date: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	resolver := fares.New(st)
	prices, err := resolver.TicketPrices(context.Background(), fromCRS, toCRS, toc, date)
	if err != nil {
		return fmt.Errorf("pricing %s -> %s: %w", fromCRS, toCRS, err)
	}

	rows := make([]*fareRow, len(prices))
	for i, p := range prices {
		rows[i] = &fareRow{
			TicketCode: p.Ticket.TicketCode,
			TktGroup:   p.Ticket.TktGroup,
			TktType:    p.Ticket.TktType,
			FarePence:  p.FarePence,
		}
	}

	out := os.Stdout
	if fareExportOut != "" {
		f, err := os.Create(fareExportOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", fareExportOut, err)
		}
		defer f.Close()
		out = f
	}

	return gocsv.MarshalFile(&rows, out)
}

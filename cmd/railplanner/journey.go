package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"railplanner.dev/core/fares"
	"railplanner.dev/core/incidents"
	"railplanner.dev/core/model"
	"railplanner.dev/core/routing"
)

var (
	earliestDeparture string
	journeyLimit      int
	toc               string
)

var journeyCmd = &cobra.Command{
	Use:   "journey <from-crs> <to-crs> <YYYY-MM-DD>",
	Short: "find journeys between two stations on a given date",
	Args:  cobra.ExactArgs(3),
	RunE:  runJourney,
}

func init() {
	journeyCmd.Flags().StringVarP(&earliestDeparture, "after", "", "0000", "earliest departure time to consider, HHMM")
	journeyCmd.Flags().IntVarP(&journeyLimit, "limit", "", 5, "maximum journeys to print, 0 for unlimited")
	journeyCmd.Flags().StringVarP(&toc, "toc", "", "", "restrict fare lookups to one train operating company")
}

func runJourney(cmd *cobra.Command, args []string) error {
	fromCRS, toCRS, dateArg := args[0], args[1], args[2]

	date, err := time.Parse("2006-01-02", dateArg)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", dateArg, err)
	}
	after, err := parseHHMM(earliestDeparture)
	if err != nil {
		return fmt.Errorf("parsing --after: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	candidates, err := routing.FindJourneysFromCRS(ctx, st, fromCRS, toCRS, date)
	if err != nil {
		return fmt.Errorf("finding journeys: %w", err)
	}
	candidates = routing.FilterBestJourneys(candidates)

	var journeys []model.Journey
	for _, c := range candidates {
		journeys = append(journeys, c.Journeys...)
	}
	journeys = routing.RankJourneys(journeys, after, journeyLimit)

	if len(journeys) == 0 {
		fmt.Println("no journeys found")
		return nil
	}

	incidentMatcher := incidents.New(st)
	fareResolver := fares.New(st)

	for i, journey := range journeys {
		fmt.Printf("%d. depart %s arrive %s (%d changes)\n",
			i+1, formatHHMM(journey.DepartureTime()), formatHHMM(journey.ArrivalTime()), len(journey)-1)
		for _, seg := range journey {
			uid := "?"
			if seg.Train != nil {
				uid = seg.Train.TrainUID
			}
			fmt.Printf("   %s -> %s on %s (%s - %s)\n",
				seg.Start.Location, seg.End.Location, uid,
				formatHHMM(seg.Start.ScheduledDepartureTime), formatHHMM(seg.End.ScheduledArrivalTime))
		}

		prices, err := fareResolver.TicketPrices(ctx, fromCRS, toCRS, toc, date)
		if err != nil {
			return fmt.Errorf("pricing journey %d: %w", i+1, err)
		}
		summary := fares.Summarize(prices, fares.ForAdult)
		if summary.CheapestSingle != nil {
			fmt.Printf("   cheapest adult single: %s\n", formatPence(summary.CheapestSingle.FarePence))
		}
		if summary.CheapestReturn != nil {
			fmt.Printf("   cheapest adult return: %s\n", formatPence(summary.CheapestReturn.FarePence))
		}
	}

	found, err := incidentMatcher.FindIncidents(ctx, candidates)
	if err != nil {
		return fmt.Errorf("matching incidents: %w", err)
	}
	for _, inc := range found {
		fmt.Printf("incident %s: %s\n", inc.Number, inc.Summary)
	}

	return nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("1504", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*100 + t.Minute(), nil
}

func formatHHMM(hhmm int) string {
	return fmt.Sprintf("%02d:%02d", hhmm/100, hhmm%100)
}

func formatPence(pence int) string {
	return fmt.Sprintf("£%d.%02d", pence/100, pence%100)
}

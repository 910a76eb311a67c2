package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
	"github.com/couchcryptid/aqhi-etl/internal/ingest"
)

func updateAQHICmd(a *app) *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "update-aqhi",
		Short: "Compute the simple AQHI of stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := ingest.NewBackfill(store, a.logger()).UpdateAQHI(cmd.Context(), override)
			if err != nil {
				return err
			}
			return a.printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "recompute records that already have an AQHI")
	return cmd
}

func coordsCmd(a *app) *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "coords city|station FILE",
		Short: "Load coordinates from a whitespace-separated file",
		Long: `Load coordinates from a whitespace-separated file.

  city file:    CITY_CN LAT LNG
  station file: CITY_CN STATION_CN LAT LNG

Any unknown name or malformed line fails the whole file.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"city", "station"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, path := args[0], args[1]
			if kind != "city" && kind != "station" {
				return fmt.Errorf("unknown coordinate kind %q: want city or station", kind)
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			coords := ingest.NewCoordinates(store, a.logger())
			var report ingest.CoordinateReport
			if kind == "city" {
				report, err = coords.UpdateCities(cmd.Context(), f, override)
			} else {
				report, err = coords.UpdateStations(cmd.Context(), f, override)
			}
			if err != nil {
				return err
			}
			return a.printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "replace coordinates that are already set")
	return cmd
}

type windowReport struct {
	City   string       `json:"city"`
	Hours  int          `json:"hours"`
	Points []aqhi.Point `json:"points"`
}

func windowCmd(a *app) *cobra.Command {
	var (
		since string
		hours int
	)

	cmd := &cobra.Command{
		Use:   "window CITY",
		Short: "Print the windowed AQHI bands of a city, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wq := ingest.WindowQuery{CityKey: args[0], Hours: hours}
			if since != "" {
				at, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				wq.Since = at.UTC()
			}
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive, got %d", hours)
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			points, err := ingest.NewWindows(store).AQHIWindows(cmd.Context(), wq)
			if err != nil {
				return err
			}
			if points == nil {
				points = []aqhi.Point{}
			}
			return a.printJSON(windowReport{City: wq.CityKey, Hours: wq.Hours, Points: points})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "earliest update time, RFC3339 (default: the last 24h)")
	cmd.Flags().IntVar(&hours, "hours", aqhi.WindowHours, "window length in hours")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"weatherfeed/internal/feed"
	"weatherfeed/internal/provider"
	"weatherfeed/internal/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored snapshots for the configured feed, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			loc, err := provider.ParseLocation(a.cfg.OpenWeather.Location)
			if err != nil {
				return &feed.ConfigurationError{Field: feed.OptLocation, Reason: err.Error()}
			}
			units, err := provider.ParseUnits(a.cfg.OpenWeather.Units)
			if err != nil {
				return &feed.ConfigurationError{Field: feed.OptUnits, Reason: err.Error()}
			}
			key := feed.Options{Location: loc, Units: units}.FeedKey()

			store, err := storage.Open(ctx, storage.Config{Driver: a.cfg.Storage.Driver, DSN: a.cfg.Storage.DSN, History: a.cfg.Storage.History}, a.logger)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			recs, err := store.ListSnapshots(ctx, key, limit)
			if err != nil {
				return fmt.Errorf("list snapshots: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, rec := range recs {
				var snap feed.Snapshot
				if err := json.Unmarshal(rec.Payload, &snap); err != nil {
					a.logger.Warn("skipping undecodable snapshot", "version", rec.Version, "error", err)
					continue
				}
				o := snap.Observation
				fmt.Fprintf(out, "v%-4d %s  %6.1f%s  %3.0f%%  %-6s %s\n",
					snap.Version, snap.FetchedAt.Format("2006-01-02 15:04:05Z07:00"),
					o.Temperature, o.TempUnit, o.Humidity, o.Condition, o.Description)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of snapshots to print")
	return cmd
}

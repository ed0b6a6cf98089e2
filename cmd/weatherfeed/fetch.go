package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"weatherfeed/internal/feed"
	"weatherfeed/internal/storage"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		location string
		units    string
		persist  bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Refresh once and print the snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts := a.cfg.FeedOptions()
			if location != "" {
				opts[feed.OptLocation] = location
			}
			if units != "" {
				opts[feed.OptUnits] = units
			}
			p, err := buildProvider(a.cfg)
			if err != nil {
				return err
			}

			fopts := []feed.Option{feed.WithLogger(a.logger)}
			if persist {
				store, err := storage.Open(ctx, storage.Config{Driver: a.cfg.Storage.Driver, DSN: a.cfg.Storage.DSN, History: a.cfg.Storage.History}, a.logger)
				if err != nil {
					return fmt.Errorf("open storage: %w", err)
				}
				defer store.Close()
				fopts = append(fopts, feed.WithStore(store))
			}

			svc, err := feed.Configure(opts, p, fopts...)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.Refresh(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "override the configured location (name or lat,lon)")
	cmd.Flags().StringVar(&units, "units", "", "override the configured units (metric, imperial, standard)")
	cmd.Flags().BoolVar(&persist, "persist", false, "save the snapshot to the configured storage")
	return cmd
}

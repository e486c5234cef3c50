package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evyataryagoni/membermap/internal/config"
	"github.com/evyataryagoni/membermap/internal/geocode"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/membersync"
	"github.com/evyataryagoni/membermap/internal/models"
)

// convergeTimeout bounds the wait for the insert notification
const convergeTimeout = 10 * time.Second

func newAddCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Geocode an address and add a member",
		Long:  "Resolves --address (or --ville and --pays) to coordinates and creates the member, then waits until the change notification shows it in the live list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var draft models.MemberDraft
			draft.Name, _ = cmd.Flags().GetString("name")
			draft.Address, _ = cmd.Flags().GetString("address")
			draft.Description, _ = cmd.Flags().GetString("description")
			draft.Poste, _ = cmd.Flags().GetString("poste")
			draft.Ville, _ = cmd.Flags().GetString("ville")
			draft.Pays, _ = cmd.Flags().GetString("pays")

			log := loggerFromCmd(cmd)
			cache := newGeocodeCache(cmd.Context(), cfg, cfg.GeocodeDelay, log)
			defer cache.Flush(context.Background())

			s := membersync.New(remoteFromCmd(cmd), membersync.WithLogger(log))
			defer s.Close()

			created, err := s.CreateFromAddress(cmd.Context(), draft, cache)
			if err != nil {
				return err
			}

			if waitForMember(cmd.Context(), s, created.ID) {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) at %.4f, %.4f\n",
					created.Name, created.ID, created.Latitude, created.Longitude)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s); change notification not seen yet\n", created.Name, created.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("name", "", "member name")
	cmd.Flags().String("address", "", "address to geocode")
	cmd.Flags().String("description", "", "description")
	cmd.Flags().String("poste", "", "role")
	cmd.Flags().String("ville", "", "city")
	cmd.Flags().String("pays", "", "country")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// waitForMember blocks until id shows up in the synced collection
func waitForMember(ctx context.Context, s *membersync.Sync, id string) bool {
	timeout := time.After(convergeTimeout)
	for {
		changed := s.Changed()
		for _, m := range s.State().Members {
			if m.ID == id {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-timeout:
			return false
		case <-changed:
		}
	}
}

// newGeocodeCache builds a Nominatim-backed cache persisted to the
// configured file, so lookups are shared across CLI runs
func newGeocodeCache(ctx context.Context, cfg *config.Config, delay time.Duration, log *logger.Logger) *geocode.Cache {
	provider := geocode.NewNominatim(
		geocode.WithBaseURL(cfg.GeocodeURL),
		geocode.WithUserAgent(cfg.GeocodeUserAgent),
		geocode.WithLogger(log),
	)
	return geocode.NewCache(ctx, provider,
		geocode.WithDelay(delay),
		geocode.WithBackend(geocode.NewFileBackend(cfg.GeocodeCachePath)),
		geocode.WithCacheLogger(log),
	)
}

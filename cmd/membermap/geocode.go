package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evyataryagoni/membermap/internal/config"
	"github.com/evyataryagoni/membermap/internal/geocode"
	"github.com/evyataryagoni/membermap/internal/importer"
	"github.com/evyataryagoni/membermap/internal/models"
	"github.com/evyataryagoni/membermap/internal/store"
)

func newGeocodeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Merge new members into a base CSV, geocoding new addresses",
		Long: "Reads --base (members layout) and --new (name,description,address,poste,ville,pays), " +
			"geocodes the new rows whose address is not already in the base, and writes the merged file to --out. " +
			"Lookups are cached in --cache across runs and spaced one second apart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			basePath, _ := cmd.Flags().GetString("base")
			newPath, _ := cmd.Flags().GetString("new")
			outPath, _ := cmd.Flags().GetString("out")
			cachePath, _ := cmd.Flags().GetString("cache")

			base, err := readBase(basePath)
			if err != nil {
				return err
			}
			incoming, err := readNew(newPath)
			if err != nil {
				return err
			}

			log := loggerFromCmd(cmd)
			cacheCfg := *cfg
			cacheCfg.GeocodeCachePath = cachePath
			cache := newGeocodeCache(cmd.Context(), &cacheCfg, geocode.BatchDelay, log)
			defer cache.Flush(context.Background())

			merged, report, mergeErr := importer.Merge(cmd.Context(), cache, base, incoming, log)

			// write what was merged even when interrupted
			if err := writeMerged(outPath, merged); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Base members:       %d\n", report.Base)
			fmt.Fprintf(out, "New rows:           %d\n", report.Incoming)
			fmt.Fprintf(out, "Added:              %d\n", report.Added)
			fmt.Fprintf(out, "Already in base:    %d\n", report.Existing)
			fmt.Fprintf(out, "Without address:    %d\n", report.NoAddress)
			fmt.Fprintf(out, "Could not geocode:  %d\n", len(report.Unresolved))
			for _, addr := range report.Unresolved {
				fmt.Fprintf(out, "  - %s\n", addr)
			}
			fmt.Fprintf(out, "Total:              %d -> %s\n", len(merged), outPath)
			fmt.Fprintf(out, "Cached addresses:   %d\n", cache.Len())

			return mergeErr
		},
	}
	cmd.Flags().String("base", "members.csv", "base members CSV (missing file means an empty base)")
	cmd.Flags().String("new", "new-members.csv", "new members CSV")
	cmd.Flags().String("out", "members-final.csv", "output CSV")
	cmd.Flags().String("cache", cfg.GeocodeCachePath, "geocode cache file")
	return cmd
}

func readBase(path string) ([]models.MemberDraft, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	drafts, _, err := store.ReadMembersCSV(f)
	return drafts, err
}

func readNew(path string) ([]models.MemberDraft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return importer.ReadNewMembersCSV(f)
}

func writeMerged(path string, drafts []models.MemberDraft) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := store.WriteMembersCSV(f, drafts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/evyataryagoni/membermap/internal/models"
	"github.com/evyataryagoni/membermap/internal/store"
)

// sampleMembers are created when seed is run without a file
var sampleMembers = []models.MemberDraft{
	{
		Name:        "Jean Dupont",
		Latitude:    48.8566,
		Longitude:   2.3522,
		Address:     "1 Rue de Rivoli, 75001 Paris, France",
		Description: "Membre fondateur",
		Poste:       "Président",
		Ville:       "Paris",
		Pays:        "France",
	},
	{
		Name:        "Marie Martin",
		Latitude:    45.7640,
		Longitude:   4.8357,
		Address:     "Place Bellecour, 69002 Lyon, France",
		Description: "Responsable communication",
		Poste:       "Communication",
		Ville:       "Lyon",
		Pays:        "France",
	},
	{
		Name:        "Pierre Durand",
		Latitude:    43.2965,
		Longitude:   5.3698,
		Address:     "Vieux Port, 13001 Marseille, France",
		Description: "Coordinateur régional",
		Poste:       "Coordinateur",
		Ville:       "Marseille",
		Pays:        "France",
	},
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [members.csv]",
		Short: "Create members in bulk",
		Long:  "Creates every row of a members CSV (name,latitude,longitude,address,description,poste,ville,pays), or three sample members when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drafts := sampleMembers
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				var skipped int
				drafts, skipped, err = store.ReadMembersCSV(f)
				if err != nil {
					return err
				}
				if skipped > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Skipped %d invalid rows\n", skipped)
				}
			}

			remote := remoteFromCmd(cmd)
			for i, draft := range drafts {
				if _, err := remote.Create(cmd.Context(), draft); err != nil {
					return eris.Wrapf(err, "created %d of %d members", i, len(drafts))
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %d members\n", len(drafts))
			return nil
		},
	}
}

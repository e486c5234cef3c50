package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evyataryagoni/membermap/internal/membersync"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the member list and keep it live",
		Long:  "Loads every member, then reprints the list whenever a change notification arrives. Runs until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resync, _ := cmd.Flags().GetDuration("resync")

			s := membersync.New(remoteFromCmd(cmd),
				membersync.WithLogger(loggerFromCmd(cmd)),
				membersync.WithResyncInterval(resync),
			)
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			for {
				changed := s.Changed()
				printState(out, s.State())

				select {
				case <-ctx.Done():
					return nil
				case <-changed:
				}
			}
		},
	}
	cmd.Flags().Duration("resync", 5*time.Minute, "full reload interval, 0 to disable")
	return cmd
}

func printState(out io.Writer, st membersync.State) {
	switch {
	case st.Loading:
		fmt.Fprintln(out, "… loading")
	case st.Error != "":
		fmt.Fprintf(out, "! %s\n", st.Error)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPOSTE\tADDRESS\tLAT\tLON")
	for _, m := range st.Members {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\n", m.Name, m.Poste, m.Address, m.Latitude, m.Longitude)
	}
	tw.Flush()
	fmt.Fprintf(out, "%d members\n\n", len(st.Members))
}

// Command membermap is the client side of the member directory: it follows
// the live collection, adds and seeds members, and batch-geocodes CSV files.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evyataryagoni/membermap/internal/config"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/membersync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "membermap",
		Short:        "Member directory client",
		Long:         "Follow, add, seed and geocode members of the directory served by the MemberMap API.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("api", cfg.APIURL, "API base URL (or API_URL env)")
	cmd.PersistentFlags().String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	cmd.AddCommand(
		newWatchCmd(),
		newAddCmd(cfg),
		newSeedCmd(),
		newGeocodeCmd(cfg),
	)
	return cmd
}

// remoteFromCmd builds the API client from the persistent flags on cmd
func remoteFromCmd(cmd *cobra.Command) *membersync.HTTPRemote {
	api, _ := cmd.Flags().GetString("api")
	return membersync.NewHTTPRemote(api, membersync.WithRemoteLogger(loggerFromCmd(cmd)))
}

// loggerFromCmd logs to stderr so command output stays on stdout
func loggerFromCmd(cmd *cobra.Command) *logger.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logger.New(logger.Config{
		Level:  level,
		Pretty: true,
		Output: os.Stderr,
	})
}

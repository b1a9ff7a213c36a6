// discovery-service: keyword-indexed job cache.
//
// Serves jobs for a keyword from the local catalog, scraping the configured
// job boards when fewer than the requested number of fresh jobs are cached.
// Keywords that users ask for while cold are queued and drained by cron
// sweeps or on-demand triggers; the requester is notified through Redis.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "discovery",
	Short: "discovery-service - keyword-indexed job cache and scrape queue",
	Long: `discovery-service serves job postings per keyword, backfilling from
job boards when the cache is short of fresh results.

Examples:
  discovery serve                    # HTTP API, cron sweeps and trigger listener
  discovery migrate                  # apply the PostgreSQL schema
  discovery jobs golang --limit 20   # one lookup, printed as JSON
  discovery enqueue rust --requester u-42
  discovery drain --max 20           # process pending queue items once
  discovery seed golang python java  # warm keywords that are not registered yet
  discovery forget golang            # drop a keyword and its associations
  discovery unlink --keyword golang --link https://jobvision.ir/jobs/123`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[discovery-service] %v\n", err)
		os.Exit(1)
	}
}

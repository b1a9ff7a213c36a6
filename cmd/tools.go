package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/queue"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return a.migrate(cmd.Context())
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs <keyword>",
	Short: "Return jobs for a keyword, scraping when the cache is short",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.cache.GetJobs(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <keyword>",
	Short: "Queue a keyword for the next sweep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requester, _ := cmd.Flags().GetString("requester")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var rid *string
		if requester != "" {
			rid = &requester
		}
		item, err := a.queue.Enqueue(cmd.Context(), args[0], rid)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), item)
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process up to --max pending queue items now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("max")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		rep, err := a.queue.DrainPending(cmd.Context(), n)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <keyword>...",
	Short: "Warm keywords that are not registered yet",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		out := cmd.OutOrStdout()
		failed := 0
		for _, o := range a.cache.Seed(cmd.Context(), args, limit) {
			switch {
			case o.Err != nil:
				failed++
				fmt.Fprintf(out, "%-24s error: %v\n", o.Keyword, o.Err)
			case o.Skipped:
				fmt.Fprintf(out, "%-24s already registered\n", o.Keyword)
			default:
				fmt.Fprintf(out, "%-24s %d job(s), %d scraped\n", o.Keyword, len(o.Result.Jobs), o.Result.Scraped)
			}
		}
		if failed > 0 {
			return errors.Newf("%d keyword(s) failed", failed)
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <keyword>",
	Short: "Delete a keyword and its job associations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		kw, err := a.registry.Forget(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted keyword %q (id %d)\n", kw.Text, kw.ID)
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Delete keyword-job associations by keyword, by job link, or both",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keyword, _ := cmd.Flags().GetString("keyword")
		link, _ := cmd.Flags().GetString("link")
		purge, _ := cmd.Flags().GetBool("purge-job")
		if keyword == "" && link == "" {
			return errors.InvalidRequestf("--keyword or --link is required")
		}
		if purge && link == "" {
			return errors.InvalidRequestf("--purge-job needs --link")
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		var keywordID, jobID int64
		if keyword != "" {
			kw, err := a.registry.Lookup(ctx, keyword)
			if err != nil {
				return err
			}
			keywordID = kw.ID
		}
		if link != "" {
			job, err := a.store.FindJobByLink(ctx, a.norm.Normalize(link))
			if err != nil {
				return errors.Wrapf(err, "job %q", link)
			}
			jobID = job.ID
		}

		n, err := a.linker.Unlink(ctx, keywordID, jobID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d association(s)\n", n)
		if purge {
			if err := a.store.DeleteJob(ctx, jobID); err != nil {
				return errors.Wrapf(err, "delete job %d", jobID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted job %d\n", jobID)
		}
		return nil
	},
}

func init() {
	unlinkCmd.Flags().String("keyword", "", "keyword whose associations are deleted")
	unlinkCmd.Flags().String("link", "", "job link whose associations are deleted")
	unlinkCmd.Flags().Bool("purge-job", false, "also delete the job row itself")
	jobsCmd.Flags().Int("limit", 10, "number of jobs to return")
	enqueueCmd.Flags().String("requester", "", "user id notified when the item is processed")
	drainCmd.Flags().Int("max", 20, "maximum number of items to claim")
	seedCmd.Flags().Int("limit", queue.DefaultResultLimit, "jobs fetched per keyword")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep queue.Report) {
	fmt.Fprintf(w, "claimed %d, failed %d, interrupted %d\n", rep.Claimed(), rep.Failed(), rep.Interrupted())
	for _, o := range rep.Outcomes {
		state := "scraped"
		switch {
		case o.Interrupted:
			state = "interrupted, left for the next sweep"
		case o.Err != nil:
			state = "error: " + o.Err.Error()
		case o.Warm:
			state = "warm"
		}
		fmt.Fprintf(w, "  #%d %-24s %d job(s) %s\n", o.Item.ID, o.Item.Keyword, o.Jobs, state)
	}
}

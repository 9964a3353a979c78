package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gumshoe/internal/state"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored investigations",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		summaries, err := mgr.List()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No investigations stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTARGET\tCATEGORY\tPROFILE\tTASKS\tARTIFACTS\tUPDATED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				s.InvestigationID, s.Status, s.Target, s.Category, s.ProfileName,
				s.TaskCount, s.ArtifactCount, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <investigation-id>",
	Short: "Show a stored investigation's tasks and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		st, err := mgr.Load(args[0])
		if err != nil {
			return err
		}

		printReport(st)

		fmt.Println("Tasks:")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  PLUGIN\tSTATUS\tTARGET\tDEPTH\tATTEMPT\tREASON")
		for _, t := range st.Tasks {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%d\t%s\n",
				t.PluginID, t.Status, t.Target, t.Depth, t.AttemptCount, t.FailureReason)
		}
		return w.Flush()
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <investigation-id>",
	Short: "Mark a stuck investigation as killed and release its run lease",
	Long: `Marks a non-terminal investigation as killed. Use this after a crash
left an investigation stuck in the running state with its lease held;
the investigation stays resumable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		st, err := mgr.Load(args[0])
		if err != nil {
			return err
		}
		if st.Status.Terminal() {
			return fmt.Errorf("investigation %s is already %s", st.InvestigationID, st.Status)
		}

		st.Status = state.StatusKilled
		if err := mgr.Snapshot(st); err != nil {
			return err
		}
		if err := mgr.ReleaseLease(st.InvestigationID); err != nil {
			logger.Warn("lease release failed", zap.Error(err))
		}
		fmt.Printf("Investigation %s killed; resume with: gumshoe resume %s\n",
			st.InvestigationID, st.InvestigationID)
		return nil
	},
}

var pruneMaxAge time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished investigations older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		n, err := mgr.Prune(pruneMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d investigation(s).\n", n)
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 30*24*time.Hour,
		"delete terminal investigations not updated within this duration")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(pruneCmd)
}

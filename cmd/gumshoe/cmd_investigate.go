package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gumshoe/internal/config"
	"gumshoe/internal/execute"
	"gumshoe/internal/investigation"
	"gumshoe/internal/state"
)

var (
	investigateCategory string
	investigateProfile  string
)

var investigateCmd = &cobra.Command{
	Use:   "investigate <target>",
	Short: "Run a new investigation against a target",
	Long: `Starts a fresh investigation: seeds tasks from the profile's tool
list for the category, runs them under bounded concurrency, chains
follow-up tasks from discovered artifacts, and snapshots progress after
every round. Ctrl-C leaves a resumable killed snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cfg, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		profile, err := cfg.Profile(investigateProfile)
		if err != nil {
			return err
		}
		registry, err := buildRegistry()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		ctrl := investigation.New(registry, execute.NewOSRunner(logger), mgr, logger, investigation.Options{
			Target:      args[0],
			Category:    investigateCategory,
			ProfileName: investigateProfile,
			Profile:     profile,
		})

		st, runErr := ctrl.Start(ctx)
		if st != nil {
			printReport(st)
		}
		return runErr
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <investigation-id>",
	Short: "Resume an interrupted investigation",
	Long: `Reloads a persisted investigation and re-submits the tasks that were
pending or running when it stopped. Completed tasks and their artifacts
are kept as-is.`,
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
		profile, cfgErr := resolveProfile(st.ProfileName)
		if cfgErr != nil {
			return cfgErr
		}
		registry, err := buildRegistry()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		ctrl := investigation.New(registry, execute.NewOSRunner(logger), mgr, logger, investigation.Options{
			Target:      st.Target,
			Category:    st.Category,
			ProfileName: st.ProfileName,
			Profile:     profile,
		})

		resumed, runErr := ctrl.Resume(ctx, args[0])
		if resumed != nil {
			printReport(resumed)
		}
		return runErr
	},
}

// resolveProfile looks the snapshot's profile up in the current
// configuration so resumed runs honor local overrides.
func resolveProfile(name string) (config.Profile, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Profile{}, err
	}
	return cfg.Profile(name)
}

// printReport writes a plain-text summary of a finished or interrupted
// investigation to stdout.
func printReport(st *state.InvestigationState) {
	fmt.Printf("\nInvestigation %s [%s]\n", st.InvestigationID, st.Status)
	fmt.Printf("Target: %s  Category: %s  Profile: %s\n", st.Target, st.Category, st.ProfileName)
	fmt.Printf("Tasks: %d  Artifacts: %d  Chain depth: %d\n\n",
		len(st.Tasks), len(st.Artifacts), st.ChainDepthReached)

	if len(st.Artifacts) == 0 {
		return
	}

	byType := make(map[string][]string)
	for _, a := range st.Artifacts {
		byType[a.Type] = append(byType[a.Type], fmt.Sprintf("%s (%.2f, %s)", a.Value, a.Confidence, a.SourcePlugin))
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, t := range types {
		values := byType[t]
		sort.Strings(values)
		fmt.Fprintf(w, "%s\t(%d)\n", t, len(values))
		for _, v := range values {
			fmt.Fprintf(w, "  %s\t\n", v)
		}
	}
	w.Flush()
}

func init() {
	investigateCmd.Flags().StringVarP(&investigateCategory, "category", "c", "website",
		"investigation category: website, organisation, people, ip_server")
	investigateCmd.Flags().StringVarP(&investigateProfile, "profile", "p", "standard",
		"profile: quick, standard, deep")
	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(resumeCmd)
}

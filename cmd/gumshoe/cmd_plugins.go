package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gumshoe/internal/execute"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List registered plugins and whether their tools are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := buildRegistry()
		if err != nil {
			return err
		}
		runner := execute.NewOSRunner(logger)

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PLUGIN\tCATEGORIES\tPRODUCES\tCONSUMES\tPRIORITY\tTOOLS")
		for _, id := range registry.IDs() {
			pl, _ := registry.Get(id)
			desc := pl.Descriptor()

			var tools []string
			for _, binary := range desc.RequiredTools {
				if err := runner.LookPath(binary); err != nil {
					tools = append(tools, binary+" (missing)")
				} else {
					tools = append(tools, binary)
				}
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				desc.ID,
				strings.Join(desc.Categories, ","),
				strings.Join(desc.Produces, ","),
				strings.Join(desc.Consumes, ","),
				desc.ChainPriority,
				strings.Join(tools, ","))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var useCmd = &cobra.Command{
	Use:   "use [cluster]",
	Short: "Switch the current cluster",
	Long: `Make a cached cluster the one other commands act on.
If no cluster is provided, an interactive selector will be shown.

Examples:
  edl use demo          # Switch to demo
  edl use               # Pick from the cached clusters`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUse,
}

var clustersCmd = &cobra.Command{
	Use:     "clusters",
	Aliases: []string{"ls"},
	Short:   "List cached clusters",
	Long: `List the clusters recorded in the local state cache. The current one is
marked with *.

Examples:
  edl clusters`,
	Args: cobra.NoArgs,
	RunE: runClusters,
}

func init() {
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(clustersCmd)
}

func runUse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store := localState()

	name := ""
	if len(args) > 0 {
		name = args[0]
	} else {
		records, current, err := cachedClusters(cmd)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No clusters cached. Create one with 'edl up <name>'")
			return nil
		}
		if name, err = ui.SelectCluster(records, current); err != nil {
			return err
		}
	}

	if err := store.Use(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Switched to cluster %s\n", ui.NameStyle.Render(name))
	return nil
}

func runClusters(cmd *cobra.Command, args []string) error {
	records, current, err := cachedClusters(cmd)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No clusters cached")
		return nil
	}

	for _, r := range records {
		marker := "  "
		name := r.Name
		if r.Name == current {
			marker = "* "
			name = ui.HeaderStyle.Render(name)
		}
		fmt.Printf("%s%-24s %-22s %s\n", marker, name, r.Infrastructure.VPCID, ui.MutedStyle.Render(r.Region))
	}
	return nil
}

func cachedClusters(cmd *cobra.Command) ([]*types.ClusterRecord, string, error) {
	store := localState()
	names, current, err := store.List()
	if err != nil {
		return nil, "", err
	}
	records := make([]*types.ClusterRecord, 0, len(names))
	for _, name := range names {
		r, err := store.Load(cmd.Context(), name)
		if err != nil {
			log.WithError(err).WithField("cluster", name).Warn("Skipping unreadable cluster state.")
			continue
		}
		records = append(records, r)
	}
	return records, current, nil
}

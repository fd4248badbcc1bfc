package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/infra"
	"github.com/rustyrazorblade/edl/internal/ui"
)

const defaultImagePrefix = "rustyrazorblade/images/easy-db-lab"

var (
	amiPrefix string
	amiKeep   int
	amiDryRun bool
)

var amiCmd = &cobra.Command{
	Use:   "ami",
	Short: "Manage lab machine images",
	Long:  `List, wait for and prune the machine images built for lab nodes.`,
}

var amiLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List lab images, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAMIList,
}

var amiPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Deregister old images and their snapshots",
	Long: `Deregister all but the newest images matching the prefix and delete their
snapshots.

Examples:
  edl ami prune --keep 2 --dry-run
  edl ami prune --prefix my-images/cassandra --keep 1`,
	Args: cobra.NoArgs,
	RunE: runAMIPrune,
}

var amiWaitCmd = &cobra.Command{
	Use:   "wait <image-id>",
	Short: "Wait until an image is available",
	Args:  cobra.ExactArgs(1),
	RunE:  runAMIWait,
}

func init() {
	rootCmd.AddCommand(amiCmd)

	amiCmd.AddCommand(amiLsCmd)
	amiCmd.AddCommand(amiPruneCmd)
	amiCmd.AddCommand(amiWaitCmd)

	amiCmd.PersistentFlags().StringVar(&amiPrefix, "prefix", defaultImagePrefix, "image name prefix")
	amiPruneCmd.Flags().IntVar(&amiKeep, "keep", 2, "number of newest images to keep")
	amiPruneCmd.Flags().BoolVar(&amiDryRun, "dry-run", false, "only show what would be deleted")
}

func runAMIList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	images, err := a.svc.AMI.FindImages(ctx, amiPrefix)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Printf("No images named %s*\n", amiPrefix)
		return nil
	}
	for _, img := range images {
		fmt.Printf("%-22s %-10s %s  %s\n",
			ui.IDStyle.Render(img.ID), img.State,
			img.CreatedAt.Local().Format("2006-01-02 15:04"), ui.NameStyle.Render(img.Name))
	}
	return nil
}

func runAMIPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	removed, err := a.svc.AMI.Prune(ctx, amiPrefix, amiKeep, amiDryRun)
	if err != nil {
		return err
	}
	switch {
	case len(removed) == 0:
		fmt.Println("Nothing to prune")
	case amiDryRun:
		fmt.Printf("Would delete %d image(s)\n", len(removed))
	default:
		fmt.Printf("Deleted %d image(s)\n", len(removed))
	}
	return nil
}

func runAMIWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := infra.WaitForImage(ctx, a.svc.AMI, args[0], infraOptions()...); err != nil {
		return err
	}
	fmt.Printf("Image %s is available\n", ui.IDStyle.Render(args[0]))
	return nil
}

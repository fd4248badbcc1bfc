package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/config"
	"github.com/rustyrazorblade/edl/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or set the AWS profile edl uses",
	Long: `Show the AWS profile and region saved in the edl config file.

Examples:
  edl profile                         # Show the saved profile
  edl profile set lab                 # Use the lab profile from now on
  edl profile set lab -r eu-west-1    # Also save the region`,
	Args: cobra.NoArgs,
	RunE: runProfileShow,
}

var profileSetCmd = &cobra.Command{
	Use:   "set <profile>",
	Short: "Save the AWS profile (and region) to the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileSet,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetConfigPath()
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	f, err := config.LoadFile(configPath())
	if err != nil {
		return err
	}
	fmt.Printf("Profile:  %s\n", orUnset(f.Profile))
	fmt.Printf("Region:   %s\n", orUnset(f.Region))
	if settings.Profile != f.Profile {
		fmt.Printf("Active:   %s %s\n", orUnset(settings.Profile), ui.MutedStyle.Render("(from flag or environment)"))
	}
	return nil
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := config.SaveProfile(configPath(), name, region); err != nil {
		return err
	}

	fmt.Printf("Saved profile %s to %s\n", ui.NameStyle.Render(name), configPath())
	fmt.Println()
	fmt.Println(ui.HintStyle.Render("To use this profile with the AWS CLI too, run:"))
	fmt.Printf("  export AWS_PROFILE=%s\n", name)
	return nil
}

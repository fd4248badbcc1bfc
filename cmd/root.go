package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rustyrazorblade/edl/internal/config"
	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/ui"
)

var (
	// Global flags
	profile   string
	region    string
	cfgFile   string
	logLevel  string
	logFormat string

	settings *config.Settings
	log      = logrus.New()
	console  = output.NewConsole(os.Stdout, log)
)

var rootCmd = &cobra.Command{
	Use:   "edl",
	Short: "easy-db-lab - disposable database lab environments on AWS",
	Long: `edl provisions and tears down short lived database lab environments on AWS:
a tagged VPC per cluster, an optional EMR cluster and OpenSearch domain, and
an S3 bucket collecting their logs.

Cluster Commands:
  edl up demo --az us-west-2a --az us-west-2b   # Create or repair cluster networking
  edl status                                   # Show the current cluster
  edl use demo                                 # Switch the current cluster
  edl down                                     # Tear down the current cluster

Services:
  edl emr start                # Launch an EMR cluster in the current VPC
  edl opensearch create        # Create an OpenSearch domain
  edl logs ls                  # List collected logs

Cleanup:
  edl down --all               # Tear down every edl tagged VPC
  edl down --build             # Remove the image build VPC
  edl ami prune --keep 2       # Deregister old images`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		console.Publish(ui.ErrorStyle.Render("Error: ") + err.Error())
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "AWS profile to use")
	rootCmd.PersistentFlags().StringVarP(&region, "region", "r", "", "AWS region to use")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.edl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	// Bind flags to viper
	_ = viper.BindPFlag(config.KeyProfile, rootCmd.PersistentFlags().Lookup("profile"))
	_ = viper.BindPFlag(config.KeyRegion, rootCmd.PersistentFlags().Lookup("region"))
}

func initConfig(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	switch logFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid --log-format %q: want text or json", logFormat)
	}

	path := cfgFile
	if path == "" {
		path = config.GetConfigPath()
	}
	if err := config.Init(viper.GetViper(), path); err != nil {
		return err
	}
	settings, err = config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// The SDK falls back to AWS_PROFILE and AWS_REGION on its own
	log.WithFields(logrus.Fields{
		"config":  path,
		"profile": settings.Profile,
		"region":  settings.Region,
	}).Debug("Loaded configuration.")
	return nil
}

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/ui"
)

var logsOut string

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Browse the logs collected in the cluster bucket",
	Long:  `List and download the logs cluster services write to the cluster bucket.`,
}

var logsLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List log objects",
	Long: `List the log objects of the current cluster, optionally under a prefix
relative to the log directory.

Examples:
  edl logs ls
  edl logs ls emr/`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogsList,
}

var logsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Download a log object",
	Long: `Download a log object to stdout or a file. Keys are those shown by
'edl logs ls'. Recently written logs may take a moment to appear.

Examples:
  edl logs get logs/emr/j-1ABC/node/i-0123/applications/spark/spark.log.gz
  edl logs get logs/cassandra/system.log -o system.log`,
	Args: cobra.ExactArgs(1),
	RunE: runLogsGet,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.AddCommand(logsLsCmd)
	logsCmd.AddCommand(logsGetCmd)

	logsGetCmd.Flags().StringVarP(&logsOut, "output", "o", "", "write to this file instead of stdout")
}

func runLogsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.Bucket == "" {
		return errors.New("the current cluster has no log bucket: run 'edl up' again")
	}

	prefix := logPrefix
	if len(args) > 0 {
		prefix = path.Join(logPrefix, args[0])
	}
	keys, err := a.svc.S3.ListKeys(ctx, record.Bucket, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Printf("No logs under s3://%s/%s\n", record.Bucket, prefix)
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	fmt.Println(ui.MutedStyle.Render(fmt.Sprintf("%d object(s)", len(keys))))
	return nil
}

func runLogsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.Bucket == "" {
		return errors.New("the current cluster has no log bucket: run 'edl up' again")
	}

	var w io.Writer = os.Stdout
	if logsOut != "" {
		f, err := os.Create(logsOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", logsOut, err)
		}
		defer f.Close()
		w = f
	}

	n, err := a.svc.S3.DownloadLog(ctx, record.Bucket, args[0], w)
	if err != nil {
		return err
	}
	if logsOut != "" {
		fmt.Printf("Wrote %d bytes to %s\n", n, logsOut)
	}
	return nil
}

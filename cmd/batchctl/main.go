package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"batchfetch/internal/api"
	"batchfetch/internal/archive"
	"batchfetch/internal/batch"
	"batchfetch/internal/config"
	"batchfetch/internal/workflow"
	gos3 "batchfetch/pkg/s3"
	"batchfetch/pkg/telemetry"
)

const serviceName = "batchctl"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "batchctl",
		Short:         "Client for retrieving spreadsheet batch-processing results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newUploadCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newFetchCommand())
	cmd.AddCommand(newProcessCommand())
	return cmd
}

type appEnv struct {
	cfg      config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
}

func setup(ctx context.Context) (*appEnv, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	shutdown, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return &appEnv{cfg: cfg, log: log, shutdown: shutdown}, nil
}

func (a *appEnv) close(ctx context.Context) {
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.log.Sync()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newUploadCommand() *cobra.Command {
	var (
		email   string
		webhook string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload spreadsheet files as a new processing batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if email == "" {
				email = app.cfg.NotificationEmail
			}
			client, err := api.NewClient(app.cfg.BaseURL, app.cfg.APIKey, app.log)
			if err != nil {
				return err
			}
			result, err := client.Upload(ctx, args, api.Notification{Email: email, WebhookURL: webhook})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Notification email (default $BATCH_NOTIFICATION_EMAIL)")
	cmd.Flags().StringVar(&webhook, "webhook", "", "Optional webhook URL for completion callbacks")
	return cmd
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show batch progress and the resolved artifact pointer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			client, err := api.NewClient(app.cfg.BaseURL, app.cfg.APIKey, app.log)
			if err != nil {
				return err
			}
			st, err := client.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(struct {
				batch.Status
				Pointer batch.Pointer `json:"pointer"`
			}{Status: st, Pointer: batch.ResolvePointer(st)})
		},
	}
	return cmd
}

func newFetchCommand() *cobra.Command {
	var (
		dest         string
		patterns     []string
		manifestOnly bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <archive-url>",
		Short: "Download a result archive and list or extract matched entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if len(patterns) == 0 {
				patterns = workflow.DefaultPatterns
			}
			if dest == "" {
				dest, err = os.MkdirTemp("", "batchfetch-")
				if err != nil {
					return err
				}
			}

			// The archive persists in dest under a name derived from the
			// download response.
			fetcher := archive.NewFetcher(app.log)
			archivePath, err := fetcher.FetchNamed(ctx, args[0], app.cfg.APIKey, dest)
			if err != nil {
				return err
			}

			manifest, err := archive.ReadManifest(archivePath, patterns)
			if err != nil {
				return err
			}
			if manifestOnly {
				return printJSON(struct {
					ArchivePath string `json:"archivePath"`
					Manifest    *archive.Manifest
				}{ArchivePath: archivePath, Manifest: manifest})
			}
			outcome, err := archive.Extract(ctx, archivePath, patterns, dest)
			if err != nil {
				return err
			}
			return printJSON(struct {
				DestDir     string `json:"destDir"`
				ArchivePath string `json:"archivePath"`
				Manifest    *archive.Manifest
				*archive.Outcome
			}{DestDir: dest, ArchivePath: archivePath, Manifest: manifest, Outcome: outcome})
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "Directory for the archive and extracted files (default fresh temp dir)")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "Entry patterns to match (default processed-csv/**)")
	cmd.Flags().BoolVar(&manifestOnly, "manifest", false, "List matched entries without extracting")
	return cmd
}

func newProcessCommand() *cobra.Command {
	var (
		email          string
		webhook        string
		modeFlag       string
		dest           string
		patterns       []string
		pollInterval   time.Duration
		timeout        time.Duration
		previewRows    int
		inlineMaxBytes int64
		mirrorBucket   string
		mirrorPrefix   string
	)

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Upload, poll to completion, and retrieve the result archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			app, err := setup(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			mode, err := workflow.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			if email == "" {
				email = app.cfg.NotificationEmail
			}
			if pollInterval <= 0 {
				pollInterval = app.cfg.PollInterval
			}
			if timeout <= 0 {
				timeout = app.cfg.PollTimeout
			}
			if mirrorBucket == "" {
				mirrorBucket = app.cfg.MirrorBucket
			}
			if mirrorPrefix == "" {
				mirrorPrefix = app.cfg.MirrorPrefix
			}

			client, err := api.NewClient(app.cfg.BaseURL, app.cfg.APIKey, app.log)
			if err != nil {
				return err
			}

			deps := workflow.Deps{
				API:     client,
				Fetcher: archive.NewFetcher(app.log),
				APIKey:  app.cfg.APIKey,
				Log:     app.log,
			}
			if mirrorBucket != "" {
				mirror, err := gos3.NewClientFromEnv()
				if err != nil {
					return fmt.Errorf("s3 mirror client: %w", err)
				}
				deps.Mirror = mirror
			}

			runner, err := workflow.NewRunner(deps)
			if err != nil {
				return err
			}

			result, runErr := runner.Run(ctx, workflow.Options{
				Files:          args,
				Notify:         api.Notification{Email: email, WebhookURL: webhook},
				Mode:           mode,
				PollInterval:   pollInterval,
				Timeout:        timeout,
				Patterns:       patterns,
				DestDir:        dest,
				PreviewRows:    previewRows,
				InlineMaxBytes: inlineMaxBytes,
				MirrorBucket:   mirrorBucket,
				MirrorPrefix:   mirrorPrefix,
			})
			if result != nil {
				if err := printJSON(result); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Notification email (default $BATCH_NOTIFICATION_EMAIL)")
	cmd.Flags().StringVar(&webhook, "webhook", "", "Optional webhook URL for completion callbacks")
	cmd.Flags().StringVar(&modeFlag, "mode", string(workflow.ModePointer), "Result mode: pointer, manifest, or extract")
	cmd.Flags().StringVar(&dest, "dest", "", "Extraction directory for --mode=extract (default fresh temp dir)")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "Entry patterns to match (default processed-csv/**)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Status poll interval (default $BATCH_POLL_INTERVAL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Polling deadline (default $BATCH_POLL_TIMEOUT)")
	cmd.Flags().IntVar(&previewRows, "preview-rows", archive.DefaultPreviewRows, "Rows per CSV preview")
	cmd.Flags().Int64Var(&inlineMaxBytes, "inline-max-bytes", archive.DefaultInlineMaxBytes, "Inline CSV text when smaller than this")
	cmd.Flags().StringVar(&mirrorBucket, "mirror-bucket", "", "Mirror extracted files to this S3 bucket")
	cmd.Flags().StringVar(&mirrorPrefix, "mirror-prefix", "", "Key prefix for mirrored files")
	return cmd
}

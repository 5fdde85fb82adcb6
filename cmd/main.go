package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
)

func main() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		_ = godotenv.Load(path)
	}

	root := &cobra.Command{
		Use:          "story-video-gen",
		Short:        "Render narrated story videos over background footage",
		SilenceUsage: true,
		RunE:         runGenerate,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true
	root.PersistentFlags().String("errors-log", "errors.log", "File that mirrors every logged error")
	addGenerateFlags(root)

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Render one video from a job config (default command)",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}
	addGenerateFlags(generate)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the job queue with the HTTP API, Telegram bot and cron schedule",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	token := &cobra.Command{
		Use:   "youtube-token",
		Short: "Authorize the YouTube uploader and save its OAuth token",
		Args:  cobra.NoArgs,
		RunE:  runYouTubeToken,
	}
	token.Flags().String("credentials", "client_secrets.json", "OAuth client secrets from Google Cloud Console")
	token.Flags().String("token", "token.json", "Where to save the token")

	root.AddCommand(generate, serve, token)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addGenerateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "config.json", "Job config file (YAML or JSON)")
	cmd.Flags().String("work-dir", "", "Directory holding assets/ and fonts/ (default: current directory)")
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(log *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Infof("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func openLog(cmd *cobra.Command) (*logging.Logger, error) {
	path, _ := cmd.Flags().GetString("errors-log")
	return logging.New(path)
}

func workDir(cmd *cobra.Command, svc internal.ServiceConfig) string {
	if dir, _ := cmd.Flags().GetString("work-dir"); dir != "" {
		return dir
	}
	return svc.WorkDir
}

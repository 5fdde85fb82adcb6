package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"story-video-gen/internal"
	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/progress"
	"story-video-gen/internal/s3"
	"story-video-gen/internal/video"
)

func runGenerate(cmd *cobra.Command, _ []string) error {
	log, err := openLog(cmd)
	if err != nil {
		return err
	}
	defer log.Close()

	path, _ := cmd.Flags().GetString("config")
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return err
	}

	svc := internal.LoadServiceConfig()
	ctx, cancel := signalContext(log)
	defer cancel()

	env, err := newEnv(ctx, svc, workDir(cmd, svc), log)
	if err != nil {
		return err
	}
	g, err := video.NewFromConfig(ctx, cfg, env)
	if err != nil {
		return err
	}
	out, err := g.Generate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Video has been output to: %s\n", out)
	return nil
}

// newEnv builds the process-wide collaborators shared by every render.
func newEnv(ctx context.Context, svc internal.ServiceConfig, root string, log *logging.Logger) (video.Env, error) {
	reporter := progress.NewLogReporter(log)
	env := video.Env{
		Dirs: cache.NewDirs(root),
		Runner: ffmpeg.NewRunner(log,
			ffmpeg.WithReporter(reporter),
			ffmpeg.WithConcurrency(svc.FFmpegConcurrency)),
		HTTPClient: &http.Client{},
		Reporter:   reporter,
		Log:        log,
	}
	if svc.S3Enabled() {
		c, err := s3.New(ctx, svc)
		if err != nil {
			return env, fmt.Errorf("s3: %w", err)
		}
		env.S3 = c
	}
	return env, nil
}

package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"story-video-gen/internal"
	"story-video-gen/internal/bot"
	"story-video-gen/internal/scheduler"
	"story-video-gen/internal/server"
	"story-video-gen/internal/uploaders"
	"story-video-gen/internal/video"
)

func runServe(cmd *cobra.Command, _ []string) error {
	log, err := openLog(cmd)
	if err != nil {
		return err
	}
	defer log.Close()

	svc := internal.LoadServiceConfig()
	ctx, cancel := signalContext(log)
	defer cancel()

	env, err := newEnv(ctx, svc, svc.WorkDir, log)
	if err != nil {
		return err
	}

	publisher := uploaders.NewManager(svc, env.S3, log)
	if err := publisher.LoadYouTubeFromS3(ctx, env.S3, env.Dirs.Root); err != nil {
		log.Warnf("uploaders: %v", err)
	}
	log.Infof("uploaders: %v", publisher.AvailablePlatforms())

	pipeline := scheduler.PipelineFunc(func(ctx context.Context, cfg internal.Config) (video.Result, error) {
		g, err := video.NewFromConfig(ctx, cfg, env)
		if err != nil {
			return video.Result{}, err
		}
		return g.Run(ctx)
	})
	jobs, err := scheduler.New(svc, scheduler.Deps{
		Pipeline:  pipeline,
		Publisher: publisher,
		S3:        env.S3,
		Log:       log,
	})
	if err != nil {
		return err
	}

	var tg *bot.TelegramBot
	if svc.TelegramToken != "" {
		errorsPath, _ := cmd.Flags().GetString("errors-log")
		tg, err = bot.NewTelegramBot(svc.TelegramToken, jobs, log, errorsPath)
		if err != nil {
			return err
		}
		jobs.SetOnFinish(tg.JobFinished)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}
	run(jobs.Run)
	run(func(ctx context.Context) error { return server.New(jobs, log).Run(ctx, svc.HTTPAddr) })
	if tg != nil {
		run(tg.Run)
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

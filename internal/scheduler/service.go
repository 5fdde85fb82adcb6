// Package scheduler runs story video jobs one at a time, from the HTTP API,
// the Telegram bot or a cron schedule, and keeps their history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/s3"
	"story-video-gen/internal/uploaders"
	"story-video-gen/internal/video"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("job queue is full")

const (
	queueSize  = 32
	historyMax = 200
)

// Pipeline renders one video for a job config.
type Pipeline interface {
	Run(ctx context.Context, cfg internal.Config) (video.Result, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, cfg internal.Config) (video.Result, error)

func (f PipelineFunc) Run(ctx context.Context, cfg internal.Config) (video.Result, error) {
	return f(ctx, cfg)
}

// Publisher sends a finished video to the configured platforms.
type Publisher interface {
	Publish(ctx context.Context, platforms []string, req *uploaders.UploadRequest) []model.UploadInfo
}

type Service struct {
	pipeline  Pipeline
	publisher Publisher
	s3c       s3.Client
	log       *logging.Logger
	cfg       internal.ServiceConfig
	cron      *cron.Cron

	queue chan string

	mu   sync.Mutex
	jobs []*model.Job
	cfgs map[string]internal.Config

	lastErr  error
	onFinish func(model.Job)
}

type Deps struct {
	Pipeline  Pipeline
	Publisher Publisher // optional
	S3        s3.Client // optional, mirrors job history
	Log       *logging.Logger
	// OnFinish, if set, is called with every job that reached done or failed.
	OnFinish func(model.Job)
}

func New(cfg internal.ServiceConfig, d Deps) (*Service, error) {
	if d.Pipeline == nil {
		return nil, errors.New("scheduler: pipeline is required")
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	s := &Service{
		pipeline:  d.Pipeline,
		publisher: d.Publisher,
		s3c:       d.S3,
		log:       d.Log,
		cfg:       cfg,
		queue:     make(chan string, queueSize),
		cfgs:      map[string]internal.Config{},
		onFinish:  d.OnFinish,
	}
	if cfg.ScheduleCron != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		s.cron = cron.New(cron.WithParser(parser))
		if _, err := s.cron.AddFunc(cfg.ScheduleCron, s.scheduled); err != nil {
			return nil, fmt.Errorf("SCHEDULE_CRON %q: %w", cfg.ScheduleCron, err)
		}
	}
	return s, nil
}

func (s *Service) scheduled() {
	s.log.Infof("cron: generating from %s", s.cfg.DefaultConfigPath)
	b, err := os.ReadFile(s.cfg.DefaultConfigPath)
	if err != nil {
		s.log.Errorf("cron: %v", err)
		return
	}
	if _, err := s.Submit("cron", b); err != nil {
		s.log.Errorf("cron: %v", err)
	}
}

// Submit validates raw (YAML or JSON) and queues a job for it. An empty
// document uses the default config file.
func (s *Service) Submit(trigger string, raw []byte) (model.Job, error) {
	if len(raw) == 0 {
		b, err := os.ReadFile(s.cfg.DefaultConfigPath)
		if err != nil {
			return model.Job{}, fmt.Errorf("default config: %w", err)
		}
		raw = b
	}
	cfg, err := internal.ParseConfig(raw)
	if err != nil {
		return model.Job{}, err
	}

	job := &model.Job{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    model.JobQueued,
		CreatedAt: time.Now().UTC(),
		Config:    raw,
	}
	s.mu.Lock()
	select {
	case s.queue <- job.ID:
	default:
		s.mu.Unlock()
		return model.Job{}, ErrQueueFull
	}
	s.jobs = append(s.jobs, job)
	s.cfgs[job.ID] = cfg
	out := *job
	s.mu.Unlock()

	s.log.Infof("job %s queued (%s)", job.ID, trigger)
	return out, nil
}

// Job returns a snapshot of one job.
func (s *Service) Job(id string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := lo.Find(s.jobs, func(j *model.Job) bool { return j.ID == id })
	if !ok {
		return model.Job{}, false
	}
	return *j, true
}

// Jobs returns snapshots, newest first.
func (s *Service) Jobs() []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Map(s.jobs, func(j *model.Job, _ int) model.Job { return *j })
	slices.Reverse(out)
	return out
}

// LastError is the most recent job failure, or nil.
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run loads history, starts the schedule and processes the queue until ctx
// is done. Jobs run strictly one after another.
func (s *Service) Run(ctx context.Context) error {
	s.loadHistory(ctx)
	if s.cron != nil {
		s.cron.Start()
		s.log.Infof("cron: schedule %q enabled", s.cfg.ScheduleCron)
	}

	for {
		select {
		case <-ctx.Done():
			if s.cron == nil {
				return nil
			}
			stop := s.cron.Stop()
			select {
			case <-stop.Done():
				return nil
			case <-time.After(10 * time.Second):
				return errors.New("cron stop timeout")
			}
		case id := <-s.queue:
			s.process(ctx, id)
		}
	}
}

func (s *Service) update(id string, fn func(j *model.Job)) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, _ := lo.Find(s.jobs, func(j *model.Job) bool { return j.ID == id })
	if j == nil {
		return model.Job{}
	}
	fn(j)
	return *j
}

func (s *Service) process(ctx context.Context, id string) {
	s.mu.Lock()
	cfg, ok := s.cfgs[id]
	delete(s.cfgs, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.update(id, func(j *model.Job) {
		j.Status = model.JobRunning
		j.StartedAt = time.Now().UTC()
	})
	s.log.Infof("job %s started", id)

	res, err := s.pipeline.Run(ctx, cfg)
	if err != nil {
		s.log.Errorf("job %s failed: %v", id, err)
		s.mu.Lock()
		s.lastErr = fmt.Errorf("job %s: %w", id, err)
		s.mu.Unlock()
		s.finish(ctx, id, func(j *model.Job) {
			j.Status = model.JobFailed
			j.Error = err.Error()
		})
		return
	}

	var uploads []model.UploadInfo
	if s.publisher != nil && len(cfg.Publish.Platforms) > 0 {
		uploads = s.publisher.Publish(ctx, cfg.Publish.Platforms, &uploaders.UploadRequest{
			VideoPath:   res.Output,
			Title:       res.Story.Title,
			Description: cfg.Publish.Description,
			Tags:        cfg.Publish.Tags,
			Privacy:     cfg.Publish.Privacy,
		})
	}
	s.finish(ctx, id, func(j *model.Job) {
		j.Status = model.JobDone
		j.Title = res.Story.Title
		j.Output = res.Output
		j.Uploads = uploads
	})
	s.log.Infof("job %s done in %s: %s", id, res.Elapsed.Round(time.Second), res.Output)
}

func (s *Service) finish(ctx context.Context, id string, fn func(j *model.Job)) {
	job := s.update(id, func(j *model.Job) {
		fn(j)
		j.FinishedAt = time.Now().UTC()
	})
	s.saveHistory(ctx)
	if s.onFinish != nil {
		s.onFinish(job)
	}
}

// SetOnFinish replaces the completion hook. Call it before Run.
func (s *Service) SetOnFinish(fn func(model.Job)) {
	s.onFinish = fn
}

func (s *Service) loadHistory(ctx context.Context) {
	if s.s3c == nil {
		return
	}
	var idx model.JobsIndex
	found, err := s.s3c.ReadJSON(ctx, s.cfg.JobsJSONKey, &idx)
	if err != nil {
		s.log.Errorf("load job history: %v", err)
		return
	}
	if !found {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := make([]*model.Job, 0, len(idx.Items))
	for i := range idx.Items {
		j := idx.Items[i]
		// Jobs that were in flight when the process stopped will never finish.
		if j.Status == model.JobQueued || j.Status == model.JobRunning {
			j.Status = model.JobFailed
			j.Error = "interrupted by restart"
		}
		old = append(old, &j)
	}
	s.jobs = append(old, s.jobs...)
	s.log.Infof("loaded %d jobs from s3://%s/%s", len(old), s.s3c.Bucket(), s.cfg.JobsJSONKey)
}

func (s *Service) saveHistory(ctx context.Context) {
	if s.s3c == nil {
		return
	}
	s.mu.Lock()
	idx := model.JobsIndex{
		UpdatedAt: time.Now().UTC(),
		Items:     lo.Map(s.jobs, func(j *model.Job, _ int) model.Job { return *j }),
	}
	s.mu.Unlock()
	idx.Trim(historyMax)
	if err := s.s3c.WriteJSON(ctx, s.cfg.JobsJSONKey, &idx); err != nil {
		s.log.Errorf("save job history: %v", err)
	}
}

// Package server exposes the job queue over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/scheduler"
)

const maxConfigBytes = 1 << 20

// Jobs is the part of the scheduler the API drives.
type Jobs interface {
	Submit(trigger string, raw []byte) (model.Job, error)
	Job(id string) (model.Job, bool)
	Jobs() []model.Job
}

type Server struct {
	jobs    Jobs
	log     *logging.Logger
	started time.Time
	router  *gin.Engine
}

func New(jobs Jobs, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{jobs: jobs, log: log, started: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/api/jobs", s.createJob)
	r.GET("/api/jobs", s.listJobs)
	r.GET("/api/jobs/:id", s.getJob)
	r.GET("/api/health", s.health)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done, then drains for up to 10 seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// createJob takes the job config (YAML or JSON) as the request body. An
// empty body runs the default config.
func (s *Server) createJob(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	job, err := s.jobs.Submit("api", body)
	var verr *internal.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config", "issues": verr.Issues})
		return
	case errors.Is(err, scheduler.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.log.Errorf("http: submit: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) getJob(c *gin.Context) {
	job, ok := s.jobs.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	jobs := s.jobs.Jobs()
	if status := c.Query("status"); status != "" {
		filtered := jobs[:0:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

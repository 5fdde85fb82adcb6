package model

import "time"

// Story is what a story source hands to the pipeline.
type Story struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Subreddit string `json:"subreddit,omitempty"`
	Source    string `json:"source"`
	// TitleImage, when set, replaces the rendered caption for the title segment.
	TitleImage string `json:"title_image,omitempty"`
}

// Segment is one narration unit: the title or one body sentence.
type Segment struct {
	Text          string  `json:"text"`
	Key           string  `json:"key"`
	OverrideImage string  `json:"override_image,omitempty"`
	ImageFile     string  `json:"image_file"`
	AudioFile     string  `json:"audio_file"`
	VideoFile     string  `json:"video_file,omitempty"`
	Duration      float64 `json:"duration"` // seconds, ceiled to 2 decimals
}

// Timeline is the ordered segment list plus the measured totals.
type Timeline struct {
	Segments     []Segment `json:"segments"`
	ExtraSilence float64   `json:"extra_silence"`
	SilenceAudio string    `json:"silence_audio,omitempty"`
	SilenceVideo string    `json:"silence_video,omitempty"`
	CombinedFile string    `json:"combined_file"`

	CalculatedTotal float64 `json:"calculated_total"`
	ActualTotal     float64 `json:"actual_total"`
	TotalDuration   float64 `json:"total_duration"`
	Correction      float64 `json:"correction"`
}

// Window is a half-open [Start, End) interval in output seconds.
type Window struct {
	Start float64
	End   float64
}

// Windows returns each segment's caption window. The cursor advances by the
// segment duration plus the inter-segment silence.
func (t Timeline) Windows(autocorrect bool) []Window {
	out := make([]Window, len(t.Segments))
	cursor := 0.0
	for i, s := range t.Segments {
		d := s.Duration
		if autocorrect {
			d += t.Correction
		}
		out[i] = Window{Start: cursor, End: cursor + d}
		cursor += d + t.ExtraSilence
	}
	return out
}

// DurationRecord is the sidecar stored next to a measured media file.
type DurationRecord struct {
	FileHash string  `json:"fileHash"`
	Duration float64 `json:"duration"`
}

// AIStory is one generated story, appended to assets/ai/<provider>.json.
type AIStory struct {
	Epoch   int64  `json:"epoch"`
	Prompt  string `json:"prompt"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

type Job struct {
	ID         string       `json:"id"`
	Trigger    string       `json:"trigger"` // api, cron, telegram
	Status     JobStatus    `json:"status"`
	Title      string       `json:"title,omitempty"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	Uploads    []UploadInfo `json:"uploads,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`

	Config []byte `json:"-"`
}

// UploadInfo records where a finished video was published.
type UploadInfo struct {
	Platform string `json:"platform"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

type JobsIndex struct {
	UpdatedAt time.Time `json:"updated_at"`
	Items     []Job     `json:"items"`
}

package uploaders

import "context"

// UploadResult is what one platform reported for a published video.
type UploadResult struct {
	Success  bool              `json:"success"`
	Platform string            `json:"platform"`
	URL      string            `json:"url,omitempty"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// UploadRequest describes a finished story video.
type UploadRequest struct {
	VideoPath   string
	Title       string
	Description string
	Caption     string
	Tags        []string
	Privacy     string // public, unlisted, private
}

// Uploader publishes a video to one platform.
type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	Platform() string
}

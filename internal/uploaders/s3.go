package uploaders

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"story-video-gen/internal/s3"
)

// S3Uploader copies the video under a prefix of the service bucket.
type S3Uploader struct {
	client s3.Client
	prefix string
}

func NewS3Uploader(client s3.Client, prefix string) *S3Uploader {
	return &S3Uploader{client: client, prefix: prefix}
}

func (u *S3Uploader) Platform() string {
	return "s3"
}

func (u *S3Uploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	key := path.Join(u.prefix, filepath.Base(req.VideoPath))
	if err := u.client.UploadFile(ctx, key, req.VideoPath, contentType(req.VideoPath)); err != nil {
		return &UploadResult{Platform: "s3", Error: err.Error()}, err
	}
	return &UploadResult{
		Success:  true,
		Platform: "s3",
		URL:      fmt.Sprintf("s3://%s/%s", u.client.Bucket(), key),
		Details:  map[string]string{"key": key},
	}, nil
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}

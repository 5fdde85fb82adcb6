package uploaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samber/lo"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/s3"
)

// Manager holds the uploaders that are configured for this process.
type Manager struct {
	mu        sync.RWMutex
	uploaders map[string]Uploader
	log       *logging.Logger
}

// NewManager enables every platform whose settings are present: telegram
// with a bot token and chat id, youtube with client secrets and a token file,
// s3 with a client.
func NewManager(cfg internal.ServiceConfig, s3c s3.Client, log *logging.Logger) *Manager {
	m := &Manager{uploaders: make(map[string]Uploader), log: log}

	if cfg.TelegramToken != "" && cfg.PostsChatID != 0 {
		m.uploaders["telegram"] = NewTelegramUploader(cfg.TelegramToken, cfg.PostsChatID)
	}
	if fileExists(cfg.YouTubeClientSecrets) && fileExists(cfg.YouTubeToken) {
		m.uploaders["youtube"] = NewYouTubeUploader(cfg.YouTubeClientSecrets, cfg.YouTubeToken)
	}
	if s3c != nil {
		m.uploaders["s3"] = NewS3Uploader(s3c, cfg.OutputsKey)
	}
	return m
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// LoadYouTubeFromS3 fetches client secrets and token from the bucket into dir
// when they are not available locally.
func (m *Manager) LoadYouTubeFromS3(ctx context.Context, s3c s3.Client, dir string) error {
	if _, err := m.GetUploader("youtube"); err == nil || s3c == nil {
		return nil
	}
	secrets := filepath.Join(dir, "client_secrets.json")
	token := filepath.Join(dir, "token.json")
	for key, dst := range map[string]string{"tokens/client_secrets.json": secrets, "tokens/token.json": token} {
		if err := s3c.DownloadFile(ctx, key, dst); err != nil {
			return fmt.Errorf("youtube credentials %s: %w", key, err)
		}
	}
	m.AddUploader("youtube", NewYouTubeUploader(secrets, token))
	m.log.Infof("uploaders: youtube credentials loaded from s3")
	return nil
}

func (m *Manager) GetUploader(platform string) (Uploader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uploader, ok := m.uploaders[platform]
	if !ok {
		return nil, fmt.Errorf("uploader not found for platform: %s", platform)
	}
	return uploader, nil
}

func (m *Manager) Upload(ctx context.Context, platform string, req *UploadRequest) (*UploadResult, error) {
	uploader, err := m.GetUploader(platform)
	if err != nil {
		return &UploadResult{Platform: platform, Error: err.Error()}, err
	}
	return uploader.Upload(ctx, req)
}

// Publish uploads to each requested platform in order. A failed platform is
// logged and recorded; it never stops the others.
func (m *Manager) Publish(ctx context.Context, platforms []string, req *UploadRequest) []model.UploadInfo {
	var out []model.UploadInfo
	for _, p := range lo.Uniq(platforms) {
		res, err := m.Upload(ctx, p, req)
		info := model.UploadInfo{Platform: p}
		if res != nil {
			info.URL = res.URL
		}
		if err != nil {
			m.log.Errorf("publish %s: %v", p, err)
			info.Error = err.Error()
		} else {
			m.log.Infof("📤 published to %s %s", p, info.URL)
		}
		out = append(out, info)
	}
	return out
}

// AvailablePlatforms lists configured platforms in sorted order.
func (m *Manager) AvailablePlatforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	platforms := lo.Keys(m.uploaders)
	slices.Sort(platforms)
	return platforms
}

// UpdateTelegramChatID retargets the telegram uploader.
func (m *Manager) UpdateTelegramChatID(chatID int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tg, ok := m.uploaders["telegram"].(*TelegramUploader); ok {
		tg.SetChatID(chatID)
	}
}

// AddUploader adds or replaces the uploader for a platform.
func (m *Manager) AddUploader(platform string, uploader Uploader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaders[platform] = uploader
}

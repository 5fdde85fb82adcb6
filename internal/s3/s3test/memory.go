// Package s3test provides an in-memory s3.Client for tests.
package s3test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"story-video-gen/internal/s3"
)

type Memory struct {
	Name string

	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
}

func New(bucket string) *Memory {
	return &Memory{Name: bucket, Objects: map[string][]byte{}, Types: map[string]string{}}
}

func (m *Memory) Bucket() string { return m.Name }

func (m *Memory) PutBytes(_ context.Context, key string, b []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key] = append([]byte(nil), b...)
	m.Types[key] = contentType
	return nil
}

func (m *Memory) GetBytes(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Objects[key]
	if !ok {
		return nil, "", s3.ErrNotExist
	}
	return append([]byte(nil), b...), m.Types[key], nil
}

func (m *Memory) UploadFile(ctx context.Context, key, path, contentType string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.PutBytes(ctx, key, b, contentType)
}

func (m *Memory) DownloadFile(ctx context.Context, key, path string) error {
	b, _, err := m.GetBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key)
	delete(m.Types, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]s3.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []s3.ObjectInfo
	for k, b := range m.Objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, s3.ObjectInfo{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) ReadJSON(ctx context.Context, key string, out any) (bool, error) {
	b, _, err := m.GetBytes(ctx, key)
	if err != nil {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (m *Memory) WriteJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.PutBytes(ctx, key, b, "application/json")
}

var _ s3.Client = (*Memory)(nil)

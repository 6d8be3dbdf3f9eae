package storage

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// UploadHook is called after an object is written, the way a bucket
// notification fires after a PUT.
type UploadHook func(ctx context.Context, key string)

// MemoryObjectStorage keeps objects in process. Upload URLs point at the
// server's own /uploads route, which calls Put.
type MemoryObjectStorage struct {
	// BaseURL prefixes issued upload URLs.
	BaseURL string

	mu       sync.RWMutex
	objects  map[string][]byte
	onUpload UploadHook
	now      func() time.Time
}

// NewMemoryObjectStorage creates an empty store.
func NewMemoryObjectStorage(baseURL string) *MemoryObjectStorage {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &MemoryObjectStorage{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
		now:     time.Now,
	}
}

// OnUpload registers the completion hook.
func (s *MemoryObjectStorage) OnUpload(hook UploadHook) {
	s.mu.Lock()
	s.onUpload = hook
	s.mu.Unlock()
}

func (s *MemoryObjectStorage) GenerateUploadURL(_ context.Context, key string, expires time.Duration) (invoice.UploadTarget, error) {
	if key == "" {
		return invoice.UploadTarget{}, shared.ErrValidation.Withf("storage key is required")
	}
	expiresAt := s.now().Add(expires).UTC()
	u := s.BaseURL + "/uploads/" + key + "?expires=" + url.QueryEscape(expiresAt.Format(time.RFC3339))
	return invoice.UploadTarget{URL: u, Key: key, ExpiresAt: expiresAt}, nil
}

// Put stores data under key and fires the upload hook.
func (s *MemoryObjectStorage) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return shared.ErrValidation.Withf("storage key is required")
	}
	s.mu.Lock()
	s.objects[key] = append([]byte(nil), data...)
	hook := s.onUpload
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, key)
	}
	return nil
}

func (s *MemoryObjectStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, shared.ErrNotFound.Withf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryObjectStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Exists reports whether key holds an object.
func (s *MemoryObjectStorage) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

var _ invoice.ObjectStorage = (*MemoryObjectStorage)(nil)

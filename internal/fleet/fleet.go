// Package fleet tracks the lifecycle of multiple concurrently-running
// camera managers, providing create/remove/list operations for a probe
// daemon watching more than one device. One instance's C1-C5 core is
// still single-channel (§1 Non-goals); fleet is the layer above it
// that runs several single-channel clients side by side.
package fleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dahuastream/dahuastream/internal/manager"
	"github.com/dahuastream/dahuastream/internal/metrics"
	"github.com/dahuastream/dahuastream/internal/session"
)

// Camera is one supervised camera connection.
type Camera struct {
	Key       string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Fleet manages the lifecycle of active camera managers.
type Fleet struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	cameras map[string]*Camera
}

// New creates a Fleet. If log is nil, slog.Default() is used.
func New(log *slog.Logger, m *metrics.Metrics) *Fleet {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Fleet{
		log:     log.With("component", "fleet"),
		metrics: m,
		cameras: make(map[string]*Camera),
	}
}

// Add starts a manager for cfg under key and registers it. Returns the
// Camera and true if started, or nil and false if key is already in
// use. sink receives every frame the camera's manager demultiplexes.
func (f *Fleet) Add(ctx context.Context, key string, cfg session.Config, dialer session.Dialer, sink manager.Sink) (*Camera, bool) {
	f.mu.Lock()
	if _, exists := f.cameras[key]; exists {
		f.mu.Unlock()
		f.log.Warn("camera already running, rejecting duplicate", "key", key)
		return nil, false
	}

	camCtx, cancel := context.WithCancel(ctx)
	cam := &Camera{
		Key:       key,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	f.cameras[key] = cam
	f.mu.Unlock()

	mgr := manager.New(cfg, dialer, f.log.With("camera", key), f.metrics, sink)

	go func() {
		defer close(cam.done)
		if err := mgr.Run(camCtx); err != nil && camCtx.Err() == nil {
			f.log.Error("camera manager exited", "key", key, "error", err)
		}
		f.Remove(key)
	}()

	f.log.Info("camera added", "key", key)
	return cam, true
}

// Remove stops and unregisters the camera at key, if present.
func (f *Fleet) Remove(key string) {
	f.mu.Lock()
	cam, ok := f.cameras[key]
	if ok {
		delete(f.cameras, key)
	}
	f.mu.Unlock()

	if ok {
		cam.cancel()
		f.log.Info("camera removed", "key", key)
	}
}

// List returns every currently-registered camera.
func (f *Fleet) List() []*Camera {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cameras := make([]*Camera, 0, len(f.cameras))
	for _, c := range f.cameras {
		cameras = append(cameras, c)
	}
	return cameras
}

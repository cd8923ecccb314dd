package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/fsutil"
)

// ErrNoSnapshot is returned by Load when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("no device snapshot")

// Loader returns the current device snapshot.
type Loader interface {
	Load() ([]device.Device, error)
}

// Store persists the device list as a JSON array. Each Save replaces the
// previous snapshot as a whole.
type Store struct {
	Path string
}

// Save writes devices as pretty-printed JSON.
func (s *Store) Save(devices []device.Device) error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("snapshot path not configured")
	}
	if devices == nil {
		devices = []device.Device{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(devices); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return fsutil.WriteFileAtomic(s.Path, buf.Bytes(), 0o644)
}

// Load reads the snapshot. A missing file yields ErrNoSnapshot.
func (s *Store) Load() ([]device.Device, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var devices []device.Device
	if err := json.Unmarshal(b, &devices); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.Path, err)
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return devices, nil
}

// Cached keeps the last successful Load of Source in memory for TTL.
// Errors are not cached.
type Cached struct {
	Source Loader
	TTL    time.Duration

	mu      sync.Mutex
	devices []device.Device
	expires time.Time
	now     func() time.Time
}

func (c *Cached) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Cached) Load() ([]device.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.devices != nil && c.clock().Before(c.expires) {
		return c.devices, nil
	}
	devices, err := c.Source.Load()
	if err != nil {
		return nil, err
	}
	c.devices = devices
	c.expires = c.clock().Add(c.TTL)
	return devices, nil
}

// Invalidate drops the in-memory copy so the next Load reads Source again.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.devices = nil
	c.mu.Unlock()
}

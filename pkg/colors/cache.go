package colors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Google Calendar event colors 1..11. 8 (graphite) is kept for tasks
// without a subject.
const (
	firstColor   = 1
	lastColor    = 11
	DefaultColor = "8"
)

type SubjectState struct {
	ColorID      string    `json:"color_id"`
	LastModified time.Time `json:"last_modified"`
}

// Cache hands out event colors per subject. When all colors are taken the
// least recently used subject gives up its color.
type Cache struct {
	Path     string
	Subjects map[string]*SubjectState
	now      func() time.Time
	mu       sync.Mutex
	dirty    bool
}

func New(path string, now func() time.Time) (*Cache, error) {
	if now == nil {
		now = time.Now
	}
	c := &Cache{Path: path, Subjects: make(map[string]*SubjectState), now: now}
	if err := c.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return c, nil
}

func (c *Cache) Load() error {
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&c.Subjects); err != nil {
		return fmt.Errorf("failed to decode color cache %s: %w", c.Path, err)
	}
	return nil
}

func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create color cache directory: %w", err)
	}
	f, err := os.Create(c.Path)
	if err != nil {
		return fmt.Errorf("failed to create color cache file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(c.Subjects); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// ColorID returns the color of subject, assigning one on first use.
func (c *Cache) ColorID(subject string) string {
	if subject == "" {
		return DefaultColor
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.Subjects[subject]; ok {
		state.LastModified = c.now()
		c.dirty = true
		return state.ColorID
	}
	return c.assign(subject)
}

func (c *Cache) assign(subject string) string {
	used := make(map[string]bool, len(c.Subjects))
	for _, s := range c.Subjects {
		used[s.ColorID] = true
	}
	for i := firstColor; i <= lastColor; i++ {
		id := strconv.Itoa(i)
		if i == 8 || used[id] {
			continue
		}
		c.Subjects[subject] = &SubjectState{ColorID: id, LastModified: c.now()}
		c.dirty = true
		return id
	}

	var oldest string
	var oldestTime time.Time
	for name, s := range c.Subjects {
		if oldest == "" || s.LastModified.Before(oldestTime) {
			oldest, oldestTime = name, s.LastModified
		}
	}
	recycled := c.Subjects[oldest].ColorID
	delete(c.Subjects, oldest)
	c.Subjects[subject] = &SubjectState{ColorID: recycled, LastModified: c.now()}
	c.dirty = true
	return recycled
}

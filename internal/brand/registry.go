package brand

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFile   = "brand_config.yaml"
	OrdersFile   = "orders.yaml"
	PoliciesFile = "policies.yaml"
	ProductsFile = "products.yaml"
)

// Lookup resolves a brand id to its configuration.
type Lookup interface {
	Get(id string) (*Brand, error)
}

// Registry holds every brand found under a directory.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	brands map[string]*Brand
	logger zerolog.Logger
}

func NewRegistry(dir string, logger zerolog.Logger) *Registry {
	return &Registry{
		dir:    dir,
		brands: make(map[string]*Brand),
		logger: logger.With().Str("component", "brand").Logger(),
	}
}

// LoadDir builds a registry and loads it once.
func LoadDir(dir string, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(dir, logger)
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Dir() string { return r.dir }

// Load rescans the directory. A missing directory yields an empty registry;
// a broken brand file is skipped with a warning.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn().Str("dir", r.dir).Msg("brands directory not found")
			r.replace(map[string]*Brand{})
			return nil
		}
		return fmt.Errorf("read brands dir: %w", err)
	}

	loaded := make(map[string]*Brand)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.dir, entry.Name())
		b, err := readBrand(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn().Err(err).Str("dir", dir).Msg("skip brand")
			}
			continue
		}
		if err := b.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("dir", dir).Msg("skip brand")
			continue
		}
		loaded[b.ID] = b
	}
	r.replace(loaded)
	r.logger.Debug().Int("brands", len(loaded)).Msg("brands loaded")
	return nil
}

func (r *Registry) replace(m map[string]*Brand) {
	r.mu.Lock()
	r.brands = m
	r.mu.Unlock()
}

func readBrand(dir string) (*Brand, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	b := &Brand{Active: true}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	b.applyDefaults(filepath.Base(dir))
	b.Dir = dir
	return b, nil
}

func (r *Registry) Get(id string) (*Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brands[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBrandNotFound, id)
	}
	return b, nil
}

func (r *Registry) List() []*Brand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Brand, 0, len(r.brands))
	for _, b := range r.brands {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) ListActive() []*Brand {
	var out []*Brand
	for _, b := range r.List() {
		if b.Active {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) ByDomain(domain string) (*Brand, error) {
	for _, b := range r.List() {
		if b.Domain != "" && b.Domain == domain {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: domain %q", ErrBrandNotFound, domain)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.brands)
}

// Register adds a new brand and writes its config file.
func (r *Registry) Register(b *Brand) error {
	if err := b.Validate(); err != nil {
		return err
	}
	cp := *b
	cp.applyDefaults(cp.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.brands[cp.ID]; exists {
		return fmt.Errorf("%w: %q", ErrBrandExists, cp.ID)
	}

	dir := filepath.Join(r.dir, cp.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create brand dir: %w", err)
	}
	data, err := yaml.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal brand: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0644); err != nil {
		return fmt.Errorf("write brand config: %w", err)
	}
	cp.Dir = dir
	r.brands[cp.ID] = &cp
	r.logger.Info().Str("brand", cp.ID).Msg("brand registered")
	return nil
}

// SeedFile returns the path of a seed file for a brand, or "" if it does not exist.
func SeedFile(b *Brand, name string) string {
	if b == nil || b.Dir == "" {
		return ""
	}
	p := filepath.Join(b.Dir, name)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Watch reloads the registry whenever a brand file changes, until ctx is done.
// Conversations keep the snapshot they started with.
func (r *Registry) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	for _, b := range r.List() {
		if b.Dir != "" {
			_ = watcher.Add(b.Dir)
		}
	}

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			if err := r.Load(); err != nil {
				r.logger.Warn().Err(err).Msg("reload brands")
				continue
			}
			r.logger.Info().Int("brands", r.Count()).Msg("brands reloaded")
			if onReload != nil {
				onReload()
			}
		}
	}
}

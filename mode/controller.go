// Package mode manages named system-prompt configurations. Modes are loaded
// from a directory of markdown files and can be hot reloaded while the
// server runs. Changing the active mode only affects sessions created
// afterwards; live sessions keep the mode they captured at creation.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cellpilot/cellpilot"
)

// agentsHeader is the optional first line of a mode file restricting the
// mode to specific agent kinds, for example:
//
//	<!-- agents: codex, claude -->
const agentsHeader = "<!-- agents:"

// Controller holds the mode registry and the active selection. Safe for
// concurrent use.
type Controller struct {
	logger *slog.Logger

	mu      sync.RWMutex
	dir     string
	modes   map[string]cellpilot.ModeConfig
	current string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController returns a Controller holding only the built-in default mode,
// which carries no system prompt and applies to every kind.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		logger: slog.Default(),
		modes: map[string]cellpilot.ModeConfig{
			cellpilot.DefaultModeName: {Name: cellpilot.DefaultModeName},
		},
		current: cellpilot.DefaultModeName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadDir loads every *.md file in dir as a mode named after the file. The
// built-in default mode is always kept. A mode file sharing the default's
// name overrides its prompt. Later Watch and Reload calls use the same
// directory.
func (c *Controller) LoadDir(dir string) error {
	c.mu.Lock()
	c.dir = dir
	c.mu.Unlock()
	return c.Reload()
}

// Reload re-reads the mode directory. Modes whose files disappeared are
// dropped; if the active mode is among them, the selection falls back to
// default.
func (c *Controller) Reload() error {
	c.mu.RLock()
	dir := c.dir
	c.mu.RUnlock()
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading mode dir: %w", err)
	}

	loaded := map[string]cellpilot.ModeConfig{
		cellpilot.DefaultModeName: {Name: cellpilot.DefaultModeName},
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		cfg, err := parseFile(name, filepath.Join(dir, entry.Name()))
		if err != nil {
			c.logger.Warn("skipping mode file", "file", entry.Name(), "error", err)
			continue
		}
		loaded[name] = cfg
	}

	c.mu.Lock()
	c.modes = loaded
	if _, ok := c.modes[c.current]; !ok {
		c.logger.Info("active mode removed, falling back to default", "mode", c.current)
		c.current = cellpilot.DefaultModeName
	}
	c.mu.Unlock()
	return nil
}

// parseFile reads one mode file. The whole file body is the system prompt,
// minus the optional agents header on the first line.
func parseFile(name, path string) (cellpilot.ModeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cellpilot.ModeConfig{}, err
	}
	cfg := cellpilot.ModeConfig{Name: name}

	body := string(raw)
	if first, rest, ok := strings.Cut(body, "\n"); ok || first != "" {
		trimmed := strings.TrimSpace(first)
		if strings.HasPrefix(trimmed, agentsHeader) {
			cfg.Agents = parseAgents(trimmed)
			body = rest
		}
	}
	cfg.Prompt = strings.TrimSpace(body)
	return cfg, nil
}

func parseAgents(line string) []cellpilot.AgentKind {
	line = strings.TrimPrefix(line, agentsHeader)
	line = strings.TrimSuffix(strings.TrimSpace(line), "-->")
	var kinds []cellpilot.AgentKind
	for _, field := range strings.Split(line, ",") {
		kind := cellpilot.AgentKind(strings.TrimSpace(field))
		if kind.Valid() {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Set selects the active mode. Unknown names fail with ErrUnknownMode and
// leave the selection unchanged.
func (c *Controller) Set(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.modes[name]; !ok {
		return fmt.Errorf("%w: %q", cellpilot.ErrUnknownMode, name)
	}
	c.current = name
	return nil
}

// Current returns the active mode configuration.
func (c *Controller) Current() cellpilot.ModeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes[c.current]
}

// List returns every known mode sorted by name.
func (c *Controller) List() []cellpilot.ModeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]cellpilot.ModeConfig, 0, len(c.modes))
	for _, cfg := range c.modes {
		all = append(all, cfg)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Watch reloads the mode directory whenever its files change, until ctx is
// cancelled. Returns immediately if no directory was loaded.
func (c *Controller) Watch(ctx context.Context) error {
	c.mu.RLock()
	dir := c.dir
	c.mu.RUnlock()
	if dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting mode watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching mode dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("mode reload failed", "error", err)
			} else {
				c.logger.Debug("modes reloaded", "trigger", event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("mode watcher error", "error", err)
		}
	}
}

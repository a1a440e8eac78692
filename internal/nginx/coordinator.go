package nginx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Coordinator writes generated configs into the proxy's sites directory and
// hands them to an out-of-process watcher that validates and reloads the
// proxy. It cannot observe the reload outcome: Apply returning nil means
// "best effort applied", nothing stronger.
type Coordinator struct {
	logger    zerolog.Logger
	sitesPath string
	settle    time.Duration
}

func NewCoordinator(logger zerolog.Logger, sitesPath string, settle time.Duration) *Coordinator {
	return &Coordinator{
		logger:    logger.With().Str("component", "reload-coordinator").Logger(),
		sitesPath: sitesPath,
		settle:    settle,
	}
}

// DomainConfigName returns the canonical filename for a mapping's config.
func DomainConfigName(id string) string { return fmt.Sprintf("domain-%s.conf", id) }

// RedirectConfigName returns the canonical filename for a redirect's config.
func RedirectConfigName(id string) string { return fmt.Sprintf("redirect-%s.conf", id) }

// FinalPath returns the path a named config will occupy once applied.
func (c *Coordinator) FinalPath(name string) string {
	return filepath.Join(c.sitesPath, name)
}

// Write stages config text at a temp path next to its final location.
func (c *Coordinator) Write(name, text string) (tempPath, finalPath string, err error) {
	if err := os.MkdirAll(c.sitesPath, 0755); err != nil {
		return "", "", fmt.Errorf("create sites dir: %w", err)
	}
	finalPath = filepath.Join(c.sitesPath, name)
	tempPath = filepath.Join(c.sitesPath, "."+name+".tmp")
	if err := os.WriteFile(tempPath, []byte(text), 0644); err != nil {
		return "", "", fmt.Errorf("write temp config %s: %w", tempPath, err)
	}
	return tempPath, finalPath, nil
}

// Apply copies the staged file into place, removes the temp file, then
// waits a fixed settle interval for the external watcher to validate and
// reload the proxy. A plain copy is used rather than rename: the temp and
// final locations are not guaranteed to share a mount point.
func (c *Coordinator) Apply(tempPath, finalPath string) error {
	data, err := os.ReadFile(tempPath)
	if err != nil {
		return fmt.Errorf("read temp config %s: %w", tempPath, err)
	}
	if err := os.WriteFile(finalPath, data, 0644); err != nil {
		return fmt.Errorf("apply config %s: %w", finalPath, err)
	}
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("path", tempPath).Msg("failed to remove temp config")
	}

	c.logger.Debug().Str("path", finalPath).Dur("settle", c.settle).Msg("config applied, waiting for watcher")
	time.Sleep(c.settle)
	return nil
}

// Remove deletes a config file. A missing file counts as success.
func (c *Coordinator) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove config %s: %w", path, err)
	}
	return nil
}

// CleanOrphaned removes managed config files (domain-*.conf and
// redirect-*.conf) that are not in the expected set. Files outside the
// managed naming pattern are never touched. Returns removed filenames.
func (c *Coordinator) CleanOrphaned(expected map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(c.sitesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sites dir: %w", err)
	}

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".conf") {
			continue
		}
		if !strings.HasPrefix(name, "domain-") && !strings.HasPrefix(name, "redirect-") {
			continue
		}
		if expected[name] {
			continue
		}
		if err := os.Remove(filepath.Join(c.sitesPath, name)); err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("failed to remove orphaned config")
			continue
		}
		removed = append(removed, name)
	}
	return removed, nil
}

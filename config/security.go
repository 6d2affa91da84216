package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/daqstream/errors"
)

const (
	maxConfigSize = 1 << 20 // 1MB max config file size
	maxPathLen    = 4096
)

var allowedExtensions = []string{".yaml", ".yml", ".json"}

// validateConfigPath does basic path validation
func validateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty config path", errors.ErrInvalidConfig)
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("%w: path too long: %d > %d", errors.ErrInvalidConfig, len(path), maxPathLen)
	}

	// Relative paths must stay within the working directory.
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot get working directory: %w", err)
		}
		absPath, err := filepath.Abs(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("cannot resolve absolute path: %w", err)
		}
		relPath, err := filepath.Rel(cwd, absPath)
		if err != nil || strings.HasPrefix(relPath, "..") {
			return fmt.Errorf("%w: path traversal not allowed: %s", errors.ErrInvalidConfig, path)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: only YAML or JSON config files allowed: %s", errors.ErrInvalidConfig, path)
}

// checkConfigFile verifies the file exists, is regular and is not oversized.
func checkConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingConfig, path),
				"Loader", "Load", "config file lookup")
		}
		return errors.WrapTransient(err, "Loader", "Load", "config file stat")
	}
	if !info.Mode().IsRegular() {
		return errors.WrapInvalid(fmt.Errorf("%w: not a regular file: %s", errors.ErrInvalidConfig, path),
			"Loader", "Load", "config file lookup")
	}
	if info.Size() > maxConfigSize {
		return errors.WrapInvalid(fmt.Errorf("%w: config file too large: %d bytes > %d",
			errors.ErrInvalidConfig, info.Size(), maxConfigSize), "Loader", "Load", "config file lookup")
	}
	return nil
}

// safeWriteFile writes a config file with owner-only permissions
func safeWriteFile(path string, data []byte) error {
	if err := validateConfigPath(path); err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "config path validation")
	}
	if len(data) > maxConfigSize {
		return errors.WrapInvalid(fmt.Errorf("%w: config data too large: %d bytes > %d",
			errors.ErrInvalidConfig, len(data), maxConfigSize), "Config", "SaveToFile", "size check")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "file write")
	}
	return nil
}

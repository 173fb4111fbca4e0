// Package secrets resolves credential settings that are kept out of
// config.yaml: ${VAR} references expanded from the environment and mounted
// secret files (Docker or Kubernetes secrets) named by a *_FILE variable.
//
// Secret values are never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// maxSecretFileSize bounds reads of mounted secrets. Tokens and passwords
// are small.
const maxSecretFileSize = 64 * 1024

// Ref points at one secret setting.
type Ref struct {
	Key     string  // config key, used in errors only
	FileEnv string  // environment variable holding the path of a secret file
	Value   *string // setting to resolve in place
}

// ExpandString expands ${VAR} and ${VAR:-default} references in s.
// A referenced variable that is unset or empty without a fallback is an
// error naming every missing variable.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, dropping trailing newlines. Files readable
// by group or other are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.Newf("secret file path is empty").
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.New(fmt.Errorf("error reading secret file: %w", err)).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret path is not a regular file: %s", path).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if info.Size() > maxSecretFileSize {
		return "", errors.Newf("secret file exceeds %d bytes: %s", maxSecretFileSize, path).
			Component("secrets").
			Category(errors.CategoryLimit).
			Build()
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or other",
			logger.String("path", path),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.New(fmt.Errorf("error reading secret file: %w", err)).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file is empty: %s", path).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return secret, nil
}

// Resolve replaces each referenced value in place. A set FileEnv variable
// wins over the configured value; otherwise ${VAR} references in the value
// are expanded.
func Resolve(refs []Ref) error {
	for _, ref := range refs {
		if path := os.Getenv(ref.FileEnv); ref.FileEnv != "" && path != "" {
			secret, err := ReadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", ref.Key, err)
			}
			*ref.Value = secret
			continue
		}

		if !strings.Contains(*ref.Value, "${") {
			continue
		}
		expanded, err := ExpandString(*ref.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.Key, err)
		}
		*ref.Value = expanded
	}
	return nil
}

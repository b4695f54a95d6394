package deploy

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// envAssignment matches lines assigning key, with optional leading whitespace
// and "export ". The value runs to the end of the line.
func envAssignment(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^([ \t]*(?:export[ \t]+)?` + regexp.QuoteMeta(key) + `=)[^\r\n]*`)
}

// UpsertEnv returns content with key set to value. Every existing assignment
// of key is rewritten in place; when there is none, a new line is appended.
// All other bytes are preserved.
func UpsertEnv(content, key, value string) string {
	re := envAssignment(key)

	if re.MatchString(content) {
		return re.ReplaceAllStringFunc(content, func(line string) string {
			prefix := re.FindStringSubmatch(line)[1]
			return prefix + value
		})
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + key + "=" + value + "\n"
}

// EnvUpdater rewrites one key of an existing dotenv file.
type EnvUpdater struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewEnvUpdater creates a new EnvUpdater.
func NewEnvUpdater(fsys afero.Fs, logger *slog.Logger) *EnvUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvUpdater{fs: fsys, logger: logger}
}

// Update sets key=value in the file at path. The file must already exist.
// It reports whether the content changed.
func (u *EnvUpdater) Update(path, key, value string) (bool, error) {
	info, err := u.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%w: %s does not exist", ErrConfigIO, path)
		}
		return false, fmt.Errorf("%w: stat %s: %w", ErrConfigIO, path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: %s is a directory", ErrConfigIO, path)
	}

	data, err := afero.ReadFile(u.fs, path)
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrConfigIO, path, err)
	}

	before := string(data)
	after := UpsertEnv(before, key, value)
	if after == before {
		u.logger.Info("config already up to date",
			slog.String("path", path),
			slog.String("key", key),
		)
		return false, nil
	}

	if err := writeFileAtomic(u.fs, path, []byte(after), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("%w: %w", ErrConfigIO, err)
	}

	u.logger.Info("config updated",
		slog.String("path", path),
		slog.String("key", key),
		slog.String("value", value),
	)
	return true, nil
}

package configloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfig names the environment variable overriding the config path.
const EnvConfig = "GEISTBIND_CONFIG"

// ErrNoConfig is returned when no config file could be located.
var ErrNoConfig = errors.New("no config found")

// ResolveConfigPath returns the best config path for a given subsystem and filename.
// It checks, in order:
// 1. $GEISTBIND_CONFIG if set (absolute path)
// 2. ~/.geistbind/<subsystem>/<file>
// 3. /etc/geistbind/<file>
func ResolveConfigPath(subsystem, file string) (string, error) {
	if env := os.Getenv(EnvConfig); env != "" {
		return env, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".geistbind", subsystem, file)
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}
	systemPath := filepath.Join("/etc/geistbind", file)
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}
	return "", fmt.Errorf("%w for %s/%s", ErrNoConfig, subsystem, file)
}

package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/dchest/uniuri"
)

const (
	appName = "ptyhost"

	tokenLength = 32

	sessionFileName = "session.json"
	configFileName  = "config.yaml"
	logFileName     = "ptyhost.log"
)

// ConfigDir returns the directory holding the optional config file.
func ConfigDir() string {
	return xdgDirWithFallback("XDG_CONFIG_HOME", xdg.ConfigHome)
}

// ConfigFilePath returns $XDG_CONFIG_HOME/ptyhost/config.yaml.
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// StateDir holds logs.
func StateDir() string {
	return xdgDirWithFallback("XDG_STATE_HOME", xdg.StateHome)
}

func LogFilePath() string {
	return filepath.Join(StateDir(), logFileName)
}

// RuntimeDir holds the session file of the running host.
func RuntimeDir() string {
	return xdgDirWithFallback("XDG_RUNTIME_DIR", xdg.RuntimeDir)
}

func SessionFilePath() string {
	return filepath.Join(RuntimeDir(), sessionFileName)
}

func xdgDirWithFallback(envVar, xdgPath string) string {
	return xdgDirWithFallbackEnv(envVar, xdgPath, os.Getenv)
}

// xdgDirWithFallbackEnv uses the XDG directory when the variable is set or the
// directory exists, and falls back to ~/.ptyhost otherwise. This keeps paths
// usable on systems without a runtime dir, e.g. macOS.
func xdgDirWithFallbackEnv(envVar, xdgPath string, getenv func(string) string) string {
	if dir := getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}

	if _, err := os.Stat(xdgPath); err == nil {
		return filepath.Join(xdgPath, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}

	return filepath.Join(home, "."+appName)
}

// ShortenHomePath replaces the home directory prefix of path with ~.
func ShortenHomePath(path string) string {
	if path == "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == home {
		return "~"
	}

	if rel, ok := strings.CutPrefix(path, home+string(filepath.Separator)); ok {
		return "~/" + filepath.ToSlash(rel)
	}

	return path
}

// GenerateToken returns a random bearer token for the invoke API.
func GenerateToken() string {
	return uniuri.NewLen(tokenLength)
}

// SessionFile tells local clients where a running host listens.
type SessionFile struct {
	Addr    string `json:"addr"`
	Token   string `json:"token"`
	Pid     int    `json:"pid"`
	Version string `json:"version"`
}

// WriteSessionFile writes sf to path, readable only by the current user.
func WriteSessionFile(path string, sf SessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return os.Rename(tmp, path)
}

func ReadSessionFile(path string) (*SessionFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sf SessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}

	return &sf, nil
}

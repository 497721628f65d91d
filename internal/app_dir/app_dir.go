package app_dir

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetAppDir returns the per-user directory shared by all projects.
func GetAppDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	appDir := filepath.Join(homeDir, ".postjs")
	if runtime.GOOS == "windows" {
		appDir = filepath.Join(homeDir, "AppData\\Local\\postjs")
	}

	return appDir, nil
}

// RemoteCacheDir returns the directory of the remote modules shared between projects.
func RemoteCacheDir() (string, error) {
	appDir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDir, "remote"), nil
}

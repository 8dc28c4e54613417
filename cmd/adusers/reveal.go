package main

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
)

// revealCommand returns the command that opens the platform file browser
// on path. Only Windows and macOS can select the file itself; elsewhere the
// containing directory is opened.
func revealCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "windows":
		return exec.Command("explorer", "/select,"+path)
	case "darwin":
		return exec.Command("open", "-R", path)
	default:
		return exec.Command("xdg-open", filepath.Dir(path))
	}
}

func revealInFileBrowser(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cmd := revealCommand(runtime.GOOS, abs)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open file browser: %w", err)
	}
	// The browser outlives us; reap it in the background.
	go cmd.Wait() //nolint:errcheck
	return nil
}

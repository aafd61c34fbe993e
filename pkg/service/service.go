// Package service manages the devpaneld systemd user service unit.
package service

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const unitName = "devpaneld.service"

// UnitContents returns the unit file for binaryPath started with args. The
// daemon reports readiness with sd_notify, so the unit is Type=notify.
func UnitContents(binaryPath string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, a := range append([]string{binaryPath}, args...) {
		words = append(words, execWord(a))
	}
	return fmt.Sprintf(`[Unit]
Description=devpaneld stand-in panel backend
After=network.target

[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, strings.Join(words, " "))
}

// execWord escapes one ExecStart word: specifiers and variables are doubled
// and words systemd would split or unescape are double-quoted.
func execWord(arg string) string {
	arg = strings.ReplaceAll(arg, "%", "%%")
	arg = strings.ReplaceAll(arg, "$", "$$")
	if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\;") {
		return strconv.Quote(arg)
	}
	return arg
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes a unit running the current executable with args, reloads
// systemd, and enables and starts the service.
func Install(args []string) error {
	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot resolve devpaneld path: %w", err)
	}
	if binaryPath, err = filepath.EvalSymlinks(binaryPath); err != nil {
		return fmt.Errorf("cannot resolve devpaneld path: %w", err)
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(UnitContents(binaryPath, args)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

// Uninstall stops and disables the service, removes the unit file, and
// reloads systemd.
func Uninstall() error {
	// Not running is fine.
	_ = systemctl("stop", unitName)
	_ = systemctl("disable", unitName)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	return systemctl("daemon-reload")
}

// Status returns a human-readable status: whether addr accepts
// connections and the state of the user unit.
func Status(addr string) string {
	var lines []string

	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		lines = append(lines, "listener: active ("+addr+")")
	} else {
		lines = append(lines, "listener: inactive ("+addr+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			out, runErr := exec.Command("systemctl", "--user", "is-active", unitName).Output()
			state := strings.TrimSpace(string(out))
			if runErr != nil && state == "" {
				state = "unknown"
			}
			lines = append(lines, "systemd user service: "+state)
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

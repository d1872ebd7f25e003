package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.petassist.gateway"

// serviceUnit is a rendered service definition and where it belongs.
type serviceUnit struct {
	Path    string
	Content []byte
	Hints   []string // printed after install
}

type unitVars struct {
	Label, Exec, Config, Log, ErrLog string
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the gateway as a launchd or systemd user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			unit, err := renderUnit(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(unit.Path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(unit.Path, unit.Content, 0o644); err != nil {
				return err
			}
			fmt.Printf("Daemon installed: %s\n", unit.Path)
			for _, h := range unit.Hints {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the gateway service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, err := unitPath(runtime.GOOS, home)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

func unitPath(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", "petassist.service"), nil
	}
	return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
}

func renderUnit(goos, home, execPath, cfgPath string) (*serviceUnit, error) {
	path, err := unitPath(goos, home)
	if err != nil {
		return nil, err
	}
	logDir := filepath.Join(home, ".petassist", "logs")
	vars := unitVars{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Log:    filepath.Join(logDir, "gateway.log"),
		ErrLog: filepath.Join(logDir, "gateway-error.log"),
	}

	tmpl, hints := systemdTemplate, []string{
		"To start:  systemctl --user start petassist",
		"To enable: systemctl --user enable petassist",
	}
	if goos == "darwin" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}
		tmpl, hints = launchdTemplate, []string{
			"To start: launchctl load " + path,
			"To stop:  launchctl unload " + path,
		}
	}

	var buf bytes.Buffer
	if err := template.Must(template.New("unit").Parse(tmpl)).Execute(&buf, vars); err != nil {
		return nil, err
	}
	return &serviceUnit{Path: path, Content: buf.Bytes(), Hints: hints}, nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=Pet store assistant gateway
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} gateway --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

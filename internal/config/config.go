// Package config persists the device identity the speaker pairs with the server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultDir is the per-user directory holding the device file, relative to $HOME.
const DefaultDir = ".speaker"

// FileName is the device file name inside DefaultDir.
const FileName = "config.json"

// ErrNoToken is returned by Validate when the device has not been paired.
var ErrNoToken = errors.New("speaker token not configured")

// Device is the content of the device file.
type Device struct {
	Token   string `json:"token,omitempty"`
	Host    string `json:"host,omitempty"`
	Version string `json:"version,omitempty"`
}

// DefaultPath returns ~/.speaker/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDir, FileName), nil
}

// Load reads the device file. A missing file yields an empty Device.
func Load(path string) (Device, error) {
	var d Device
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config.Load: no device file", "path", path)
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("failed to read device config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("failed to parse device config %s: %w", path, err)
	}
	slog.Debug("config.Load succeeded", "path", path, "host", d.Host, "token_set", d.Token != "")
	return d, nil
}

// Save writes the device file, creating its directory. The file holds the token
// so it is only readable by the owner.
func Save(path string, d Device) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode device config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write device config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace device config: %w", err)
	}
	slog.Debug("config.Save succeeded", "path", path)
	return nil
}

// Merge returns d with every non-empty field of override applied on top.
func (d Device) Merge(override Device) Device {
	if override.Token != "" {
		d.Token = override.Token
	}
	if override.Host != "" {
		d.Host = override.Host
	}
	if override.Version != "" {
		d.Version = override.Version
	}
	return d
}

// Validate reports whether the device can talk to the server.
func (d Device) Validate() error {
	if d.Host == "" {
		return errors.New("speaker host not configured")
	}
	if d.Token == "" {
		return ErrNoToken
	}
	return nil
}

// Package settings persists the user's style preferences between runs.
//
// Preferences are only written when Remember is set; clearing the flag
// through Save removes nothing but stops further writes, and Clear deletes
// the stored file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/menta2k/webp-converter/pkg/types"
)

// FileName is the settings file name inside the config directory
const FileName = "settings.json"

// Settings are the remembered style preferences. Every field is optional.
type Settings struct {
	BorderRadius *int    `json:"borderRadius,omitempty"`
	FrameWidth   *int    `json:"frameWidth,omitempty"`
	FrameColor   *string `json:"frameColor,omitempty"`
	IsCircle     *bool   `json:"isCircle,omitempty"`
	Remember     *bool   `json:"remember,omitempty"`
}

// ShouldRemember reports whether the remember flag is set
func (s Settings) ShouldRemember() bool {
	return s.Remember != nil && *s.Remember
}

// Mask returns the clip shape described by the stored preferences
func (s Settings) Mask() types.MaskShape {
	circle := s.IsCircle != nil && *s.IsCircle
	radius := 0
	if s.BorderRadius != nil {
		radius = *s.BorderRadius
	}
	return types.MaskFor(circle, radius)
}

// Validate checks ranges and normalizes FrameColor to #rrggbb
func (s *Settings) Validate() error {
	if s.BorderRadius != nil {
		r := types.ClampRadius(*s.BorderRadius)
		s.BorderRadius = &r
	}
	if s.FrameWidth != nil && *s.FrameWidth < 0 {
		return fmt.Errorf("%w: frame width %d must not be negative", types.ErrInvalidInput, *s.FrameWidth)
	}
	if s.FrameColor != nil {
		c, err := colorful.Hex(*s.FrameColor)
		if err != nil {
			return fmt.Errorf("%w: frame color %q: %v", types.ErrInvalidInput, *s.FrameColor, err)
		}
		hex := c.Hex()
		s.FrameColor = &hex
	}
	return nil
}

// Merge overlays the fields set in other
func (s Settings) Merge(other Settings) Settings {
	if other.BorderRadius != nil {
		s.BorderRadius = other.BorderRadius
	}
	if other.FrameWidth != nil {
		s.FrameWidth = other.FrameWidth
	}
	if other.FrameColor != nil {
		s.FrameColor = other.FrameColor
	}
	if other.IsCircle != nil {
		s.IsCircle = other.IsCircle
	}
	if other.Remember != nil {
		s.Remember = other.Remember
	}
	return s
}

// Store reads and writes Settings as JSON at a fixed path
type Store struct {
	path string
}

// NewStore creates a store backed by path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns <user config dir>/webp-converter/settings.json
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", FileName)
	}
	return filepath.Join(dir, "webp-converter", FileName)
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored settings. A missing or unreadable file yields empty
// settings.
func (s *Store) Load() Settings {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}
	}
	if err := out.Validate(); err != nil {
		return Settings{}
	}
	return out
}

// Save writes settings when their remember flag is set and reports whether
// anything was written
func (s *Store) Save(settings Settings) (bool, error) {
	if err := settings.Validate(); err != nil {
		return false, err
	}
	if !settings.ShouldRemember() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write settings: %w", err)
	}
	return true, nil
}

// Clear removes the stored settings
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

// Runtime toggles an admin can flip from the chat.
const (
	ToggleSendClient = "send_client"
	ToggleSendAppeal = "send_appeal"
)

// ErrUnknownToggle is returned by Set for a name that is not a toggle.
var ErrUnknownToggle = errors.New("unknown setting")

// Settings holds the runtime toggles and persists them to a YAML file, so a restart keeps
// whatever the admins switched last.
type Settings struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
}

// LoadSettings reads the settings file at path. A missing file is created with every toggle on.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault(ToggleSendClient, true)
	v.SetDefault(ToggleSendAppeal, true)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to create settings file: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	return &Settings{v: v, path: path}, nil
}

// SendClient reports whether new clients may be submitted.
func (s *Settings) SendClient() bool {
	return s.get(ToggleSendClient)
}

// SendAppeal reports whether rejections may be contested.
func (s *Settings) SendAppeal() bool {
	return s.get(ToggleSendAppeal)
}

// Toggles returns a snapshot of every toggle.
func (s *Settings) Toggles() map[string]bool {
	return map[string]bool{
		ToggleSendClient: s.SendClient(),
		ToggleSendAppeal: s.SendAppeal(),
	}
}

// Set switches a toggle and writes the file.
func (s *Settings) Set(name string, on bool) error {
	if name != ToggleSendClient && name != ToggleSendAppeal {
		return fmt.Errorf("%w: %s", ErrUnknownToggle, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(name, on)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Settings) get(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.v.GetBool(name)
}

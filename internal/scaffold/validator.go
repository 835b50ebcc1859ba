package scaffold

import (
	"fmt"
	"os"

	"github.com/dyluth/huddle/internal/config"
)

// CheckExisting returns an error if huddle.yml already exists in the working directory.
func CheckExisting() error {
	if _, err := os.Stat(config.DefaultFilename); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'huddle init --force' to reinitialize (this will overwrite existing configuration)",
			config.DefaultFilename)
	}
	return nil
}

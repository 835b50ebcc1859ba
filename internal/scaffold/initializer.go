package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/printer"
)

//go:embed templates/*
var templatesFS embed.FS

// Initialize writes a starter huddle.yml into the working directory.
// If force is true an existing huddle.yml is replaced.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	content, err := templatesFS.ReadFile("templates/huddle.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read huddle.yml template: %w", err)
	}

	if err := os.WriteFile(config.DefaultFilename, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", config.DefaultFilename, err)
	}

	return validateCreatedConfig()
}

// handleForce removes an existing huddle.yml
func handleForce() error {
	if _, err := os.Stat(config.DefaultFilename); err == nil {
		printer.Warning("Removing existing %s...\n", config.DefaultFilename)
		if err := os.Remove(config.DefaultFilename); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultFilename, err)
		}
	}
	return nil
}

// validateCreatedConfig loads the written file through the same path
// `huddle simulate` uses, so a broken template fails here first.
func validateCreatedConfig() error {
	content, err := os.ReadFile(config.DefaultFilename)
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", config.DefaultFilename, err)
	}

	cfg, err := config.Parse(content)
	if err != nil {
		return fmt.Errorf("created %s is not valid YAML: %w", config.DefaultFilename, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultFilename, err)
	}

	return nil
}

// PrintSuccess prints the success message with next steps
func PrintSuccess() {
	printer.Println()
	printer.Success("Initialized huddle project\n")
	printer.Println("\nCreated:")
	printer.Println("  ✓ huddle.yml")
	printer.Println("\nNext steps:")
	printer.Println("  1. Describe your agents and goals in huddle.yml")
	printer.Println("  2. Run 'huddle simulate' to negotiate the goals in-process")
	printer.Println("  3. Set mirror.redis_url and run 'huddle watch' to follow along")
}

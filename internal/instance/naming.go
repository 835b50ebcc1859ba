package instance

import (
	"fmt"
	"regexp"
)

const (
	// DefaultName is used when no instance name is configured anywhere
	DefaultName = "default"

	// EnvInstanceName overrides the configured instance name
	EnvInstanceName = "HUDDLE_INSTANCE_NAME"

	// MaxNameLength is the maximum length for an instance name (DNS-compatible)
	MaxNameLength = 63
)

var (
	// NamePattern is the regex pattern for valid instance names
	// Must be DNS-compatible: lowercase alphanumeric, hyphens allowed (but not at start/end)
	// Allows single character or multiple characters with optional hyphens in between
	NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
)

// ValidateName checks if an instance name is valid according to DNS naming rules.
// Instance names become Redis key segments and NATS subject tokens, so they are kept strict.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// Resolve picks the instance name to use.
// Precedence: explicit flag, then $HUDDLE_INSTANCE_NAME, then the config file, then DefaultName.
// The chosen name is validated before it is returned.
func Resolve(flagValue string, getenv func(string) string, configValue string) (string, error) {
	name := flagValue
	if name == "" && getenv != nil {
		name = getenv(EnvInstanceName)
	}
	if name == "" {
		name = configValue
	}
	if name == "" {
		name = DefaultName
	}

	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/instance"
	"github.com/dyluth/huddle/internal/printer"
	"github.com/dyluth/huddle/pkg/mirror"
)

// target identifies the mirrored instance a read-only command inspects.
type target struct {
	instanceName string
	redisURL     string
}

// resolveTarget picks the instance and Redis URL for watch and dump.
// Flags win, then environment variables, then huddle.yml if one is present.
func resolveTarget(configPath, nameFlag, redisFlag string) (*target, error) {
	configInstance := ""
	configRedis := os.Getenv(config.EnvRedisURL)

	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		configInstance = cfg.Instance
		configRedis = cfg.Mirror.RedisURL
	case errors.Is(err, fs.ErrNotExist):
		// No project file: flags and environment only
	default:
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or pass --name and --redis-url explicitly", configPath)},
		)
	}

	name, err := instance.Resolve(nameFlag, os.Getenv, configInstance)
	if err != nil {
		return nil, printer.Error("invalid instance name", err.Error(), nil)
	}

	redisURL := redisFlag
	if redisURL == "" {
		redisURL = configRedis
	}
	if redisURL == "" {
		return nil, printer.Error(
			"no Redis mirror configured",
			fmt.Sprintf("Instance '%s' has no Redis URL to read from.", name),
			[]string{
				"Pass one explicitly:\n  --redis-url redis://localhost:6379",
				fmt.Sprintf("Set %s in the environment", config.EnvRedisURL),
				fmt.Sprintf("Set mirror.redis_url in %s", configPath),
			},
		)
	}

	return &target{instanceName: name, redisURL: redisURL}, nil
}

// connect opens and pings the mirror client for t.
func (t *target) connect(ctx context.Context) (*mirror.Client, error) {
	client, err := mirror.NewClientFromURL(t.redisURL, t.instanceName)
	if err != nil {
		return nil, printer.Error("invalid Redis URL", err.Error(), nil)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", t.redisURL),
			map[string]string{"instance": t.instanceName},
			[]string{"Check that Redis is running and the URL is correct"},
		)
	}
	return client, nil
}

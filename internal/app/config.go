package app

import (
	"errors"
	"fmt"

	"github.com/vk/kiln/internal/push"
)

// Commands the app knows how to run.
const (
	CommandBuild  = "build"
	CommandServe  = "serve"
	CommandPush   = "push"
	CommandExport = "export"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command string

	RecipePath string // build
	ImageName  string // serve, push, export
	StoreDir   string
	IndexURL   string // build
	OutputPath string // export
	WorkDir    string // serve: override for the invocation working directory

	Push push.Config

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.StoreDir == "" {
		return nil, errors.New("StoreDir is a required configuration field and cannot be empty")
	}

	switch cfg.Command {
	case CommandBuild:
		if cfg.RecipePath == "" {
			return nil, errors.New("build requires a recipe path")
		}
		if cfg.IndexURL == "" {
			return nil, errors.New("build requires a package index URL")
		}
	case CommandServe, CommandExport:
		if cfg.ImageName == "" {
			return nil, fmt.Errorf("%s requires an image name", cfg.Command)
		}
	case CommandPush:
		if cfg.ImageName == "" {
			return nil, errors.New("push requires an image name")
		}
		if err := cfg.Push.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	return &cfg, nil
}

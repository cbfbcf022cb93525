package main

import (
	"fmt"

	"github.com/rhuss/toolbridge/pkg/config"
	"github.com/rhuss/toolbridge/pkg/debug"
)

// Options are the global flags. Sub-commands are registered through the
// command tags and read the global flags through globalOptions.
type Options struct {
	Config string `short:"c" long:"config" description:"path to the YAML configuration file" env:"TOOLBRIDGE_CONFIG"`
	Debug  string `long:"debug" description:"comma separated debug categories, or all"`

	Serve ServeCmd `command:"serve" description:"Run the HTTP API server"`
	Tools ToolsCmd `command:"tools" description:"List the tools offered by the configured MCP servers"`
	Call  CallCmd  `command:"call" description:"Execute one tool directly"`
	Chat  ChatCmd  `command:"chat" description:"Run one prompt through the tool calling loop"`
}

var globalOptions Options

// loadConfig loads the configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalOptions.Config)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	categories := cfg.Observability.Logging.Debug
	if globalOptions.Debug != "" {
		categories = globalOptions.Debug
	}
	debug.Init(debug.Options{
		Categories: categories,
		Level:      cfg.Observability.Logging.Level,
		Format:     cfg.Observability.Logging.Format,
	})
	return cfg, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/engine"
)

// ChatCmd runs a single prompt through the tool calling loop and prints
// the streamed answer. Tool callouts go to stderr unless --quiet is set.
type ChatCmd struct {
	Document string `long:"document" description:"document path the executions are counted against"`
	System   string `long:"system" description:"system prompt"`
	MaxTurns int    `long:"max-turns" description:"turn limit, overrides engine.max_turns"`
	Summary  bool   `long:"summary" description:"print the model summary callout first"`
	Quiet    bool   `short:"q" long:"quiet" description:"do not print tool callouts"`
}

// Execute implements flags.Commander.
func (c *ChatCmd) Execute(args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return fmt.Errorf("a prompt is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var messages []api.Message
	if c.System != "" {
		messages = append(messages, api.Message{Role: api.RoleSystem, Content: c.System})
	}
	messages = append(messages, api.Message{Role: api.RoleUser, Content: prompt})

	if c.Summary {
		fmt.Print(engine.FormatModelSummary(cfg.Engine.Provider, cfg.Engine.Model, a.modelServers(ctx)))
	}

	opts := engine.Options{MaxTurns: c.MaxTurns, DocumentPath: c.Document}
	if !c.Quiet {
		opts.Editor = os.Stderr
	}
	return streamChat(os.Stdout, a.coord.GenerateWithTools(ctx, messages, a.newAdapter(), a.executor, opts))
}

// streamChat copies the generated text to w and ends with a newline.
func streamChat(w io.Writer, seq iter.Seq2[string, error]) error {
	for text, err := range seq {
		if err != nil {
			fmt.Fprintln(w)
			return err
		}
		if _, err := io.WriteString(w, text); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/discovery"
	"github.com/rhuss/toolbridge/pkg/executor"
)

// ToolsCmd prints the tool index.
type ToolsCmd struct {
	JSON bool `long:"json" description:"print the snapshot as JSON"`
}

// Execute implements flags.Commander.
func (c *ToolsCmd) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := a.discovery.Snapshot(ctx, discovery.Options{ForceRefresh: true})
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return printTools(snap)
}

func printTools(snap *api.Snapshot) error {
	if snap.ToolCount() == 0 {
		fmt.Println("no tools available")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tTOOL\tDESCRIPTION")
	for _, s := range snap.Servers {
		for _, t := range s.Tools {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ServerID, t.Name, t.Description)
		}
	}
	return tw.Flush()
}

// CallCmd executes one tool as a user-initiated call.
type CallCmd struct {
	Args     string `long:"args" description:"tool arguments as a JSON object" default:"{}"`
	Document string `long:"document" description:"document path the execution is counted against"`

	Positional struct {
		Server string `positional-arg-name:"server" required:"yes"`
		Tool   string `positional-arg-name:"tool" required:"yes"`
	} `positional-args:"yes"`
}

// Execute implements flags.Commander.
func (c *CallCmd) Execute(_ []string) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(c.Args), &params); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.executor.ExecuteToolWithID(ctx, executor.Request{
		ServerID:     c.Positional.Server,
		ToolName:     c.Positional.Tool,
		Parameters:   params,
		Source:       api.SourceUserCodeblock,
		DocumentPath: c.Document,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

package provider

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/discovery"
)

// ToolSource is the part of the discovery cache adapters depend on.
type ToolSource interface {
	Snapshot(ctx context.Context, opts discovery.Options) (*api.Snapshot, error)
	ToolMapping(ctx context.Context) (map[string]api.ToolServerInfo, error)
	CachedMapping() map[string]api.ToolServerInfo
}

var _ ToolSource = (*discovery.Cache)(nil)

// ToolIndex answers tool lookups for adapters from the discovery cache.
type ToolIndex struct {
	source ToolSource
}

// NewToolIndex wraps source. A nil source yields an index with no tools.
func NewToolIndex(source ToolSource) *ToolIndex {
	return &ToolIndex{source: source}
}

// FindServer returns the server owning toolName. The cached mapping is
// consulted first; a miss builds the snapshot.
func (ix *ToolIndex) FindServer(ctx context.Context, toolName string) *api.ToolServerInfo {
	if ix == nil || ix.source == nil {
		return nil
	}
	if mapping := ix.source.CachedMapping(); mapping != nil {
		if info, ok := mapping[toolName]; ok {
			return &info
		}
		return nil
	}

	mapping, err := ix.source.ToolMapping(ctx)
	if err != nil {
		slog.Warn("tool lookup failed", "tool", toolName, "error", err)
		return nil
	}
	if info, ok := mapping[toolName]; ok {
		return &info
	}
	return nil
}

// Tools returns every tool offered to the model, one definition per name.
// A name served by several servers resolves to the server that owns it in
// the mapping.
func (ix *ToolIndex) Tools(ctx context.Context) ([]api.ToolDefinition, error) {
	if ix == nil || ix.source == nil {
		return nil, nil
	}
	snap, err := ix.source.Snapshot(ctx, discovery.Options{})
	if err != nil {
		return nil, err
	}

	var defs []api.ToolDefinition
	for _, s := range snap.Servers {
		for _, t := range s.Tools {
			if owner, ok := snap.Mapping[t.Name]; ok && owner.ID == s.ServerID {
				defs = append(defs, t)
			}
		}
	}
	return defs, nil
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Schema returns a tool's input schema, or an empty object schema when the
// server declared none.
func Schema(def api.ToolDefinition) json.RawMessage {
	if len(def.InputSchema) == 0 || string(def.InputSchema) == "null" {
		return emptySchema
	}
	return def.InputSchema
}

package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/rhuss/toolbridge/pkg/debug"
)

const maxLineSize = 1024 * 1024

// ReadSSE yields the data payload of each server-sent event in body until
// the stream ends or a "[DONE]" sentinel arrives. Comment lines, event
// names and blank lines are skipped.
//
// Expected framing:
//
//	event: content_block_delta
//	data: {"type":"content_block_delta",...}
//
//	data: [DONE]
func ReadSSE(ctx context.Context, body io.Reader) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}

			line := scanner.Text()
			payload, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			payload = strings.TrimSpace(payload)
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}

			debug.Trace("providers", "sse chunk", "data", debug.Truncate(payload, 200))
			if !yield(Chunk(payload), nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			yield(nil, fmt.Errorf("read SSE stream: %w", err))
		}
	}
}

// ReadNDJSON yields each non-empty line of a newline-delimited JSON stream.
func ReadNDJSON(ctx context.Context, body io.Reader) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}

			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			debug.Trace("providers", "ndjson chunk", "data", debug.Truncate(string(line), 200))
			if !yield(Chunk(bytes.Clone(line)), nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			yield(nil, fmt.Errorf("read NDJSON stream: %w", err))
		}
	}
}

// Package provider defines the vendor-neutral contract between the tool
// calling coordinator and LLM backends.
//
// Each vendor package (openai, claude, ollama) supplies a Parser that
// normalizes its streaming wire format into canonical text and tool call
// chunks, and an Adapter that speaks the vendor's HTTP API. Shared helpers
// cover stream framing (SSE and NDJSON), tool argument decoding, backend
// error mapping and tool lookup through the discovery cache.
package provider

// Package openai adapts OpenAI Chat Completions compatible backends
// (OpenAI, vLLM, LiteLLM and similar) to the provider contract.
package openai

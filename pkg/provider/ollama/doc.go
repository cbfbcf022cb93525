// Package ollama adapts the Ollama chat API to the provider contract.
package ollama

// Package claude adapts the Anthropic Messages API to the provider
// contract.
package claude

// Package engine drives multi-turn tool calling conversations.
//
// The Coordinator streams a model turn through a provider.Adapter, yields
// text to the caller as it arrives, and, when the turn ends with complete
// tool calls, executes them one at a time through the executor before
// sending the results back to the model. Tool failures are folded into the
// conversation as {"error": message} results so the model can recover;
// only vendor stream errors and context cancellation end the conversation
// with an error.
package engine

// Package agent assembles system prompts from identity files, searched
// memory and available skills, and delegates completion to an opaque model
// backend.
//
// Invariants:
// - Prompt sections that resolve empty are omitted, never rendered blank.
// - The model call is a single opaque Completer invocation; tool loops and
//   provider selection live behind it.
//
// Usage:
//
//	a, _ := agent.New(agent.Config{Memory: mem, Completer: c})
//	reply, _ := a.Chat(ctx, history, "what did I note about rent?")
//	_ = reply
package agent

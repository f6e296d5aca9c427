// Package model defines the provider-agnostic contract the orchestrator uses
// to drive language models:
//   - a single streaming Generate call returning response and error channels
//   - incremental chunks (text, tool call announcements, argument fragments)
//     followed by one aggregated final response
//   - tool definitions as JSON Schema
//
// Providers live in sub-packages (openai, anthropic); modeltest offers a
// scripted model for tests and offline development.
package model

// Package core provides the foundational domain types shared by the
// orchestration pipeline:
//
//   - Message / Part: the conversation log (user, assistant text, assistant
//     tool calls, tool results) and its OpenAI-shaped JSON codec
//   - Content: model output before it is attributed to an agent
//   - Event: the raw chunk stream produced by the orchestrator (checkpoints
//     and incremental fragments)
//   - RunContext / ToolContext: per-run and per-tool-call execution scope
//   - ModelLimiter: a guard against unbounded model call loops
//
// Persistence, transport and orchestration live in their own packages.
package core

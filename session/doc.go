// Package session holds the durable chat log: chat sessions scoped to a
// canvas and the append-only message list of each session.
//
// Store is the contract the generation service depends on. InMemoryStore
// backs tests and ephemeral servers; SQLiteStore is the production
// implementation. Messages are stored as their JSON encoding so stored
// transcripts can be replayed to clients unchanged.
package session

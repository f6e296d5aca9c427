// Package agent holds the static description of the specialist agents:
// identity, instructions, the tool names they may call and the agents they
// may hand control to. Definitions are plain values; the graph package
// compiles them into runnable agents.
//
// The built-in registry contains three specialists:
//
//   - planner: writes a plan and hands off to a creator
//   - image_video_creator: holds the run's image and video tools
//   - instagram_uploader: publishes results
//
// Definitions may be overridden from YAML (see ParseDefinitions).
package agent

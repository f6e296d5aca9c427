package agent

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Built-in agent names.
const (
	Planner           = "planner"
	ImageVideoCreator = "image_video_creator"
	InstagramUploader = "instagram_uploader"
)

const plannerInstructions = `You are a design planning agent. Answer and write the plan in the SAME LANGUAGE as the user's prompt.
- Step 1. If the task requires multiple steps, call write_plan with high level steps for the other agents to execute.
- Step 2. Transfer to the appropriate agent:
  - image or video generation and editing -> image_video_creator
  - uploading or posting to Instagram -> instagram_uploader

Rules:
1. Complete the write_plan call and wait for its result before transferring.
2. Do not call multiple tools at once.
3. When the user asks to upload or post to Instagram, transfer to instagram_uploader directly.
4. Keep the exact image quantity the user asked for; assume 1 when none is given.`

const creatorInstructions = `You are an image and video creator. Use the available generation tools to fulfil the plan.
- Write detailed prompts that preserve the user's subject, style and requested quantity.
- Call one generation tool at a time and wait for its result.
- Reply with a short description of what was created, in the SAME LANGUAGE as the user.
- When the user wants the result posted to Instagram, transfer to instagram_uploader.`

const uploaderInstructions = `You are an Instagram uploader agent. Upload images when the user asks for it.
- Use upload_to_instagram with the image_url and a caption.
- Use the URL the user gives, otherwise the most recently generated image in the conversation.
- Write a fitting caption when the user does not provide one.
- After the upload, confirm it; on failure explain the error. Answer in the SAME LANGUAGE as the user.`

// BuiltinDefinitions returns the default specialists.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			Name:                Planner,
			Instructions:        plannerInstructions,
			Tools:               []string{"write_plan"},
			AcceptsSystemPrompt: true,
			Handoffs: []Handoff{
				{
					Target:      ImageVideoCreator,
					Description: "Transfer user to the image_video_creator. About this agent: Specialize in generating images and videos. Transfer here when user asks for image generation or video generation tasks.",
				},
				{
					Target:      InstagramUploader,
					Description: "Transfer user to the instagram_uploader. About this agent: Specialize in uploading images to Instagram. Transfer here when user explicitly asks to upload or post images to Instagram.",
				},
			},
		},
		{
			Name:                 ImageVideoCreator,
			Instructions:         creatorInstructions,
			AcceptsSystemPrompt:  true,
			ReceivesRequestTools: true,
			Handoffs: []Handoff{
				{
					Target:      InstagramUploader,
					Description: "Transfer user to the instagram_uploader. Transfer here when the user wants the generated images posted to Instagram.",
				},
			},
		},
		{
			Name:         InstagramUploader,
			Instructions: uploaderInstructions,
			Tools:        []string{"upload_to_instagram"},
		},
	}
}

// SelectOptions tailors the registry's definitions to one run.
type SelectOptions struct {
	// SystemPrompt decorates agents with AcceptsSystemPrompt.
	SystemPrompt string
	// RequestTools are added to agents with ReceivesRequestTools.
	RequestTools []string
	// Agents restricts the selection; empty selects every agent. Hand-offs
	// to unselected agents are dropped.
	Agents []string
}

// Registry is the fixed set of definitions available to runs. Lookups are
// safe for concurrent use; Select returns fresh copies.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry validates defs and builds a registry. Names must be unique.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("agent: duplicate definition %q", d.Name)
		}
		r.defs[d.Name] = d.Clone()
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// DefaultRegistry returns a registry with the built-in definitions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinDefinitions()...)
	if err != nil {
		panic(err) // built-ins are static
	}
	return r
}

// Override replaces definitions by name and appends unknown ones.
func (r *Registry) Override(defs ...Definition) error {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		if _, exists := r.defs[d.Name]; !exists {
			r.order = append(r.order, d.Name)
		}
		r.defs[d.Name] = d.Clone()
	}
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, false
	}
	return d.Clone(), true
}

// Names returns the agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Select returns the decorated definitions for one run, entry agent first.
func (r *Registry) Select(opts SelectOptions) ([]Definition, error) {
	names := opts.Agents
	if len(names) == 0 {
		names = r.Names()
	}

	selected := make(map[string]bool, len(names))
	for _, n := range names {
		selected[n] = true
	}

	out := make([]Definition, 0, len(names))
	for _, name := range names {
		d, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("agent: unknown agent %q (known: %s)", name, strings.Join(r.Names(), ", "))
		}
		if d.AcceptsSystemPrompt {
			d = d.WithInstructionPrefix(opts.SystemPrompt)
		}
		if d.ReceivesRequestTools {
			d = d.WithTools(opts.RequestTools...)
		}
		d.Handoffs = slices.DeleteFunc(d.Handoffs, func(h Handoff) bool { return !selected[h.Target] })
		out = append(out, d)
	}
	return out, nil
}

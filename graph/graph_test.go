package graph

import (
	"context"
	"testing"

	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/model/modeltest"
	"github.com/next-unicorn-dev/canvas/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *tool.Catalog {
	t.Helper()
	c, err := tool.NewCatalog(
		tool.Entry{Tool: tool.NewWritePlanTool()},
		tool.Entry{Tool: tool.NewFunctionTool("generate_image", "Generate an image", nil, nil), Kind: tool.KindImage},
		tool.Entry{Tool: tool.NewFunctionTool("upload_to_instagram", "Upload", nil, nil), Kind: tool.KindUpload, Sensitive: true},
	)
	require.NoError(t, err)
	return c
}

func builtinGraph(t *testing.T) *Graph {
	t.Helper()
	defs, err := agent.DefaultRegistry().Select(agent.SelectOptions{RequestTools: []string{"generate_image"}})
	require.NoError(t, err)
	g, err := Build(defs, modeltest.New(), testCatalog(t))
	require.NoError(t, err)
	return g
}

func TestBuildMaterializesHandoffTools(t *testing.T) {
	g := builtinGraph(t)

	assert.Equal(t, agent.Planner, g.Entry().Name())
	assert.Equal(t, []string{agent.Planner, agent.ImageVideoCreator, agent.InstagramUploader}, g.Names())

	planner, ok := g.Get(agent.Planner)
	require.True(t, ok)
	assert.Equal(t, []string{
		"write_plan",
		"transfer_to_image_video_creator",
		"transfer_to_instagram_uploader",
	}, planner.ListTools())

	target, ok := planner.HandoffTarget("transfer_to_image_video_creator")
	require.True(t, ok)
	assert.Equal(t, agent.ImageVideoCreator, target)
	_, ok = planner.HandoffTarget("write_plan")
	assert.False(t, ok)

	defs := planner.ToolDefinitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "function", defs[0].Type)
	assert.Contains(t, defs[1].Function.Description, "Specialize in generating images")

	creator, _ := g.Get(agent.ImageVideoCreator)
	assert.True(t, creator.HasTool("generate_image"))
	assert.True(t, creator.HasTool("transfer_to_instagram_uploader"))

	uploader, _ := g.Get(agent.InstagramUploader)
	assert.Equal(t, []string{"upload_to_instagram"}, uploader.ListTools())

	assert.True(t, g.IsHandoff("transfer_to_instagram_uploader"))
	assert.False(t, g.IsHandoff("generate_image"))
}

func TestBuildUnknownToolIsConfigurationError(t *testing.T) {
	defs := []agent.Definition{{Name: "creator", Tools: []string{"generate_hologram"}}}
	_, err := Build(defs, modeltest.New(), testCatalog(t))
	require.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), "generate_hologram")
}

func TestBuildErrors(t *testing.T) {
	c := testCatalog(t)
	m := modeltest.New()

	_, err := Build(nil, m, c)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = Build([]agent.Definition{{Name: "a", Handoffs: []agent.Handoff{{Target: "b"}}}}, m, c)
	require.ErrorIs(t, err, ErrUnknownAgent)

	_, err = Build([]agent.Definition{{Name: "a"}, {Name: "a"}}, m, c)
	require.ErrorIs(t, err, ErrDuplicateAgent)

	_, err = Build([]agent.Definition{{Name: ""}}, m, c)
	require.ErrorIs(t, err, agent.ErrEmptyName)

	_, err = Build([]agent.Definition{{Name: "a"}}, nil, c)
	require.Error(t, err)
}

func TestResolveActive(t *testing.T) {
	g := builtinGraph(t)

	assert.Equal(t, agent.Planner, g.ResolveActive(nil).Name())

	history := []core.Message{
		core.NewUserMessage("draw a cat"),
		core.NewAssistantMessage(agent.Planner, "planning"),
		core.NewAssistantMessage(agent.ImageVideoCreator, "here is the cat"),
		core.NewToolResultMessage("c1", "generate_image", "ok", nil),
		core.NewUserMessage("another one"),
	}
	assert.Equal(t, agent.ImageVideoCreator, g.ResolveActive(history).Name())

	foreign := []core.Message{
		core.NewAssistantMessage(agent.Planner, "planning"),
		core.NewAssistantMessage("retired_agent", "old"),
	}
	assert.Equal(t, agent.Planner, g.ResolveActive(foreign).Name(), "unknown tags are skipped")

	untagged := []core.Message{core.NewAssistantMessage("", "hi")}
	assert.Equal(t, agent.Planner, g.ResolveActive(untagged).Name())
}

func TestInstructionsKeepPrefixVerbatim(t *testing.T) {
	d := agent.Definition{Name: agent.Planner, Instructions: "Plan for canvas {{ .canvas_id }}."}
	d = d.WithInstructionPrefix("Brand voice: write like {{brand}} would. Keep {{.session_id}}.")

	g, err := Build([]agent.Definition{d}, modeltest.New(), testCatalog(t))
	require.NoError(t, err)

	rc := core.NewRunContext(context.Background(), "s1", "c1", "r1", nil, 0, nil)
	got, err := g.Entry().Instructions(rc)
	require.NoError(t, err)
	assert.Equal(t, "Brand voice: write like {{brand}} would. Keep {{.session_id}}.\n\nPlan for canvas c1.", got)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesIndexedGraph(t *testing.T) {
	def, err := NewProcessBuilder("p").
		Name("demo").
		Version(2).
		Start("start").
		Task("work", "x + 1").
		End("end").
		Connect("start", "work").
		Connect("work", "end").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "demo", def.Name)
	assert.Equal(t, int32(2), def.Version)
	assert.Equal(t, "start", def.DefaultStart)

	work := def.Node("work")
	require.NotNil(t, work)
	assert.Equal(t, NodeTypeTask, work.Type)
	require.Len(t, work.Incoming(ConnectionTypeDefault), 1)
	require.Len(t, work.Outgoing(ConnectionTypeDefault), 1)
	assert.Equal(t, "end", work.Outgoing(ConnectionTypeDefault)[0].To)
	assert.True(t, work.HasOutgoing())
	assert.False(t, def.Node("end").HasOutgoing())
}

func TestValidateRejectsBrokenGraphs(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *ProcessDefinition
		message string
	}{
		{
			name: "missing id",
			build: func() *ProcessDefinition {
				return &ProcessDefinition{}
			},
			message: "requires an id",
		},
		{
			name: "duplicate node id",
			build: func() *ProcessDefinition {
				b := NewProcessBuilder("p").Start("a")
				b.Start("a")
				return b.def
			},
			message: "duplicate node id",
		},
		{
			name: "dangling connection",
			build: func() *ProcessDefinition {
				b := NewProcessBuilder("p").Start("a").Connect("a", "ghost")
				return b.def
			},
			message: "unknown node id",
		},
		{
			name: "unknown trigger start",
			build: func() *ProcessDefinition {
				b := NewProcessBuilder("p").Start("a")
				b.def.TriggerStarts["t"] = "ghost"
				return b.def
			},
			message: "unknown start node",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestStartNodeResolution(t *testing.T) {
	def := NewProcessBuilder("p").
		Start("main").
		StartOnTrigger("alt", "imported").
		MustBuild()

	require.NotNil(t, def.StartNode(""))
	assert.Equal(t, "main", def.StartNode("").ID)
	require.NotNil(t, def.StartNode("imported"))
	assert.Equal(t, "alt", def.StartNode("imported").ID)
	assert.Nil(t, def.StartNode("unknown"))
}

func TestFindNodeSearchesCompositeScopes(t *testing.T) {
	def := NewProcessBuilder("p").
		Start("start").
		Composite("outer", func(cb *ContainerBuilder) {
			cb.Start("innerStart").
				Task("innerTask", "").
				End("innerEnd").
				Connect("innerStart", "innerTask").
				Connect("innerTask", "innerEnd")
		}).
		End("end").
		Connect("start", "outer").
		Connect("outer", "end").
		MustBuild()

	assert.Nil(t, def.Node("innerTask"), "nested nodes are not visible at the root level")
	require.NotNil(t, def.FindNode("innerTask"))
	assert.Equal(t, NodeTypeTask, def.FindNode("innerTask").Type)
}

func TestConstraintBinding(t *testing.T) {
	def := NewProcessBuilder("p").
		Start("start").
		Task("check", "").
		End("yes").
		End("no").
		Connect("start", "check").
		Connect("check", "yes").
		Connect("check", "no").
		Constraint("check", "yes", "ok === true", 1).
		DefaultFlow("check", "no").
		MustBuild()

	check := def.Node("check")
	require.Len(t, check.Constraints, 2)
	assert.NotEmpty(t, check.DefaultConnection)

	var defaults int
	for _, c := range check.Constraints {
		if c.Default {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestConstraintOnMissingConnectionPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewProcessBuilder("p").
			Start("start").
			End("end").
			Constraint("start", "end", "true", 1)
	})
}

func TestExceptionHandlerLookup(t *testing.T) {
	def := NewProcessBuilder("p").
		Start("start").
		End("end").
		Connect("start", "end").
		OnFault("credit", ExceptionHandler{FaultVariable: "failure"}).
		MustBuild()

	handler, ok := def.Handler("credit")
	require.True(t, ok)
	assert.Equal(t, "failure", handler.FaultVariable)

	_, ok = def.Handler("unknown")
	assert.False(t, ok)
}

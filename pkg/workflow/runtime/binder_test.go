package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID     string
	Amount int
	Status string
}

func orderBinder() *Binder[*order] {
	return NewBinder[*order]().
		Register("id", func(o *order) any { return o.ID }, nil).
		Register("amount",
			func(o *order) any { return o.Amount },
			func(o *order, v any) { o.Amount = v.(int) }).
		Register("status",
			func(o *order) any { return o.Status },
			func(o *order, v any) { o.Status = v.(string) })
}

func TestBindFlattensModel(t *testing.T) {
	b := orderBinder()
	o := &order{ID: "o-1", Amount: 10, Status: "new"}

	vars := b.Bind(o)
	assert.Equal(t, "o-1", vars["id"])
	assert.Equal(t, 10, vars["amount"])
	assert.Equal(t, "new", vars["status"])
	assert.Same(t, o, vars[WholeModelKey].(*order))
}

func TestUnbindRoundTrip(t *testing.T) {
	b := orderBinder()
	o := &order{ID: "o-1", Amount: 10, Status: "new"}

	vars := b.Bind(o)
	vars["amount"] = 25
	vars["status"] = "approved"
	b.Unbind(o, vars)

	assert.Equal(t, 25, o.Amount)
	assert.Equal(t, "approved", o.Status)
	assert.Same(t, o, vars[WholeModelKey].(*order))
}

func TestUnbindSkipsReadOnlyAndMissingFields(t *testing.T) {
	b := orderBinder()
	o := &order{ID: "o-1", Amount: 10, Status: "new"}

	b.Unbind(o, map[string]any{
		"id":      "rewritten",
		"unknown": "ignored",
	})
	assert.Equal(t, "o-1", o.ID, "read-only field must not be written")
	assert.Equal(t, 10, o.Amount, "missing entry leaves the field untouched")

	require.NotPanics(t, func() { b.Unbind(o, nil) })
}

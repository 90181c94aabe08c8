package runtime

// WholeModelKey is the reserved variable name under which Bind stores the
// model object itself, so expressions and handlers can reach the full
// structure as well as the flattened fields.
const WholeModelKey = "$v"

// Field is one registered name -> getter/setter pair of a model type.
type Field[T any] struct {
	Get func(model T) any
	Set func(model T, value any)
}

// Binder converts between a structured model object and the flat variable
// map a process instance works on. Mappings are registered explicitly per
// model type; there is no reflection involved.
//
// Both directions are total: Bind never fails, and Unbind ignores map
// entries with no registered field and leaves fields unset when the map has
// no entry for them.
type Binder[T any] struct {
	fields map[string]Field[T]
	order  []string
}

func NewBinder[T any]() *Binder[T] {
	return &Binder[T]{fields: make(map[string]Field[T])}
}

// Register adds a field mapping. The setter may be nil for read-only
// fields; such fields are skipped by Unbind.
func (b *Binder[T]) Register(name string, get func(T) any, set func(T, any)) *Binder[T] {
	if _, exists := b.fields[name]; !exists {
		b.order = append(b.order, name)
	}
	b.fields[name] = Field[T]{Get: get, Set: set}
	return b
}

// Bind flattens the model into a name -> value map, including the reserved
// whole-model entry.
func (b *Binder[T]) Bind(model T) map[string]any {
	vars := make(map[string]any, len(b.fields)+1)
	for _, name := range b.order {
		vars[name] = b.fields[name].Get(model)
	}
	vars[WholeModelKey] = model
	return vars
}

// Unbind writes the map's values back into the model's matching fields and
// re-inserts the whole-model reference. Missing entries leave the field
// untouched; unknown entries are ignored.
func (b *Binder[T]) Unbind(model T, vars map[string]any) {
	if vars == nil {
		return
	}
	for _, name := range b.order {
		field := b.fields[name]
		if field.Set == nil {
			continue
		}
		value, ok := vars[name]
		if !ok {
			continue
		}
		field.Set(model, value)
	}
	vars[WholeModelKey] = model
}

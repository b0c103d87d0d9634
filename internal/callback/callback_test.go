package callback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	t.Run("unknown stage", func(t *testing.T) {
		err := r.Register(Stage("nope"), func(context.Context, Call) {})
		require.ErrorIs(t, err, ErrUnknownStage)
	})

	t.Run("nil func", func(t *testing.T) {
		err := r.Register(StageJobEnd, nil)
		require.ErrorIs(t, err, ErrNilFunc)
	})

	t.Run("valid", func(t *testing.T) {
		err := r.Register(StageJobEnd, func(context.Context, Call) {})
		require.NoError(t, err)
		assert.Equal(t, 1, r.Len(StageJobEnd))
	})
}

func TestFireOrder(t *testing.T) {
	r := NewRegistry()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		err := r.Register(StageJobStart, func(context.Context, Call) {
			order = append(order, i)
		})
		require.NoError(t, err)
	}

	r.Fire(context.Background(), StageJobStart, nil, nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFireNoBindings(t *testing.T) {
	r := NewRegistry()
	// Must not panic or touch other stages.
	r.Fire(context.Background(), StageTerminate, nil, nil)
}

func TestFireArguments(t *testing.T) {
	r := NewRegistry()
	node := struct{ name string }{name: "n1"}

	var got Call
	err := r.Register(StageException,
		func(_ context.Context, call Call) { got = call },
		WithArgs("a", 42),
		WithKwargs(map[string]any{"k": "v"}),
		InjectNode(),
	)
	require.NoError(t, err)

	fault := assert.AnError
	r.Fire(context.Background(), StageException, node, fault)

	assert.Equal(t, node, got.Node)
	assert.Equal(t, []any{"a", 42}, got.Args)
	assert.Equal(t, map[string]any{"k": "v"}, got.Kwargs)
	assert.Equal(t, fault, got.Err)
}

func TestFireWithoutInjectOmitsNode(t *testing.T) {
	r := NewRegistry()

	var got Call
	require.NoError(t, r.Register(StageJobEnd, func(_ context.Context, call Call) { got = call }))

	r.Fire(context.Background(), StageJobEnd, "the-node", nil)
	assert.Nil(t, got.Node)
}

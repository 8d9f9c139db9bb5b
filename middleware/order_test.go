package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-webserver/types"
)

func noop(*types.Context) error { return nil }

func kinds(middlewares []types.Middleware) []types.Kind {
	result := make([]types.Kind, len(middlewares))
	for i, mw := range middlewares {
		result[i] = mw.Kind()
	}
	return result
}

func TestSortKeepsRegistrationOrderWithoutConstraints(t *testing.T) {
	input := []types.Middleware{
		New("a", types.PhasePreController, noop),
		New("b", types.PhasePreController, noop),
		New("c", types.PhasePostController, noop),
	}

	sorted, err := Sort(input)
	require.NoError(t, err)
	require.Equal(t, []types.Kind{"a", "b", "c"}, kinds(sorted))
}

func TestSortHonoursBeforeAndAfter(t *testing.T) {
	input := []types.Middleware{
		New("logging", types.PhasePreController, noop, WithAfter("request-id")),
		New("auth", types.PhasePreController, noop),
		New("request-id", types.PhasePreController, noop),
		New("cors", types.PhasePreController, noop, WithBefore("auth")),
	}

	sorted, err := Sort(input)
	require.NoError(t, err)
	require.Equal(t, []types.Kind{"request-id", "logging", "cors", "auth"}, kinds(sorted))
}

func TestSortConsultsBothSidesOfAPair(t *testing.T) {
	input := []types.Middleware{
		New("b", types.PhasePreController, noop),
		New("a", types.PhasePreController, noop, WithBefore("b")),
		New("c", types.PhasePreController, noop),
	}

	sorted, err := Sort(input)
	require.NoError(t, err)
	require.Equal(t, []types.Kind{"a", "b", "c"}, kinds(sorted))
}

func TestSortIgnoresUnknownAndSameKindConstraints(t *testing.T) {
	input := []types.Middleware{
		New("a", types.PhasePreController, noop, WithAfter("missing")),
		New("a", types.PhasePreController, noop, WithBefore("a")),
		New("b", types.PhasePreController, noop, WithBefore("ghost")),
	}

	sorted, err := Sort(input)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	require.Same(t, input[0], sorted[0])
	require.Same(t, input[1], sorted[1])
	require.Same(t, input[2], sorted[2])
}

func TestSortAppliesConstraintsToEveryInstanceOfAKind(t *testing.T) {
	input := []types.Middleware{
		New("x", types.PhasePreController, noop),
		New("x", types.PhasePreController, noop),
		New("y", types.PhasePreController, noop, WithBefore("x")),
	}

	sorted, err := Sort(input)
	require.NoError(t, err)
	require.Equal(t, []types.Kind{"y", "x", "x"}, kinds(sorted))
}

func TestSortDoesNotMutateInput(t *testing.T) {
	input := []types.Middleware{
		New("b", types.PhasePreController, noop, WithAfter("a")),
		New("a", types.PhasePreController, noop),
	}
	original := append([]types.Middleware(nil), input...)

	_, err := Sort(input)
	require.NoError(t, err)
	require.Equal(t, original, input)
}

func TestSortReportsCycles(t *testing.T) {
	input := []types.Middleware{
		New("free", types.PhasePreController, noop),
		New("a", types.PhasePreController, noop, WithBefore("b")),
		New("b", types.PhasePreController, noop, WithBefore("a")),
	}

	sorted, err := Sort(input)
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrMiddlewareOrderCycle))

	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	require.Equal(t, []types.Kind{"a", "b"}, orderErr.Kinds)

	require.Equal(t, []types.Kind{"free", "a", "b"}, kinds(sorted))
}

func TestSortCycleExcludesDependents(t *testing.T) {
	input := []types.Middleware{
		New("a", types.PhasePreController, noop, WithBefore("b")),
		New("b", types.PhasePreController, noop, WithBefore("a")),
		New("c", types.PhasePreController, noop, WithAfter("a")),
		New("d", types.PhasePreController, noop),
	}

	sorted, err := Sort(input)

	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	require.Equal(t, []types.Kind{"a", "b"}, orderErr.Kinds)
	require.Equal(t, "middleware order cycle: a, b", err.Error())
	require.Equal(t, []types.Kind{"d", "a", "b", "c"}, kinds(sorted))
}

func TestSortEmpty(t *testing.T) {
	sorted, err := Sort(nil)
	require.NoError(t, err)
	require.Empty(t, sorted)
}

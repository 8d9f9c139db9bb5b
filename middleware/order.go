package middleware

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/saiset-co/sai-webserver/types"
)

// OrderError names the kinds whose before/after constraints form a cycle.
type OrderError struct {
	Kinds []types.Kind
}

func (e *OrderError) Error() string {
	names := make([]string, len(e.Kinds))
	for i, kind := range e.Kinds {
		names[i] = string(kind)
	}
	return fmt.Sprintf("%s: %s", types.ErrMiddlewareOrderCycle, strings.Join(names, ", "))
}

func (e *OrderError) Unwrap() error {
	return types.ErrMiddlewareOrderCycle
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Sort orders middlewares so that every Before/After constraint between
// registered kinds holds. Unconstrained middlewares keep registration order.
// The result is always a full permutation of the input; when constraints form
// a cycle the unresolved middlewares are appended in registration order and an
// *OrderError is returned alongside.
func Sort(middlewares []types.Middleware) ([]types.Middleware, error) {
	n := len(middlewares)
	sorted := make([]types.Middleware, 0, n)
	if n == 0 {
		return sorted, nil
	}

	byKind := make(map[types.Kind][]int, n)
	for i, mw := range middlewares {
		byKind[mw.Kind()] = append(byKind[mw.Kind()], i)
	}

	edges := make([]map[int]struct{}, n)
	indegree := make([]int, n)

	addEdge := func(from, to int) {
		if middlewares[from].Kind() == middlewares[to].Kind() {
			return
		}
		if edges[from] == nil {
			edges[from] = make(map[int]struct{})
		}
		if _, exists := edges[from][to]; exists {
			return
		}
		edges[from][to] = struct{}{}
		indegree[to]++
	}

	for i, mw := range middlewares {
		for _, kind := range mw.Before() {
			for _, j := range byKind[kind] {
				addEdge(i, j)
			}
		}
		for _, kind := range mw.After() {
			for _, j := range byKind[kind] {
				addEdge(j, i)
			}
		}
	}

	ready := &indexHeap{}
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	placed := make([]bool, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		sorted = append(sorted, middlewares[i])
		placed[i] = true

		for j := range edges[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	if len(sorted) == n {
		return sorted, nil
	}

	orderErr := &OrderError{}
	seen := make(map[types.Kind]struct{})
	for i, mw := range middlewares {
		if placed[i] {
			continue
		}
		sorted = append(sorted, mw)
		if !onCycle(edges, placed, i) {
			continue
		}
		if _, ok := seen[mw.Kind()]; !ok {
			seen[mw.Kind()] = struct{}{}
			orderErr.Kinds = append(orderErr.Kinds, mw.Kind())
		}
	}

	return sorted, orderErr
}

// onCycle reports whether start can reach itself through unplaced nodes.
// Nodes that merely depend on a cycle are unplaced but not on it.
func onCycle(edges []map[int]struct{}, placed []bool, start int) bool {
	visited := make([]bool, len(edges))
	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for j := range edges[i] {
			if j == start {
				return true
			}
			if placed[j] || visited[j] {
				continue
			}
			visited[j] = true
			stack = append(stack, j)
		}
	}
	return false
}

package tree

import (
	"fmt"
	"strings"
)

// A prefix tree of sequences of payloads.
// Nodes compare payloads with eq, so payloads need not be comparable.
type Tree[T any] struct {
	payload  T
	parent   *Tree[T]
	children []*Tree[T]
	depth    int
	eq       func(a, b T) bool
}

func New[T any](payload T, eq func(a, b T) bool) Tree[T] {
	return Tree[T]{
		payload:  payload,
		children: []*Tree[T]{},
		eq:       eq,
	}
}

// Returns the total number of nodes in the tree
func (t *Tree[T]) Len() int {
	len := 1
	for _, child := range t.children {
		len += child.Len()
	}
	return len
}

// Returns the number of leaf nodes in the tree
func (t *Tree[T]) Leaves() int {
	if t.IsLeafNode() {
		return 1
	}
	leaves := 0
	for _, child := range t.children {
		leaves += child.Leaves()
	}
	return leaves
}

// Adds a new child with the provided payload as a child of the current Tree
// Returns the child when done
func (t *Tree[T]) AddChild(payload T) *Tree[T] {
	node := &Tree[T]{
		payload:  payload,
		parent:   t,
		children: []*Tree[T]{},
		depth:    t.depth + 1,
		eq:       t.eq,
	}
	t.children = append(t.children, node)
	return node
}

// Returns the first child node with the provided payload.
// If no such child node exists returns nil
func (t *Tree[T]) GetChild(payload T) *Tree[T] {
	for _, node := range t.children {
		if t.eq(payload, node.payload) {
			return node
		}
	}
	return nil
}

// Adds the path below the current node, reusing the nodes that already exist.
// Returns true if at least one node was added
func (t *Tree[T]) Insert(path []T) bool {
	node := t
	added := false
	for _, payload := range path {
		child := node.GetChild(payload)
		if child == nil {
			child = node.AddChild(payload)
			added = true
		}
		node = child
	}
	return added
}

// Returns true if the path exists below the current node
func (t *Tree[T]) Contains(path []T) bool {
	node := t
	for _, payload := range path {
		node = node.GetChild(payload)
		if node == nil {
			return false
		}
	}
	return true
}

// String representation of a Tree. One line per node, indented by depth
func (t *Tree[T]) String() string {
	out := strings.Builder{}
	out.WriteString(strings.Repeat("-", t.depth))
	out.WriteString(fmt.Sprintf("%v\n", t.payload))
	for _, child := range t.children {
		out.WriteString(child.String())
	}
	return out.String()
}

func (t *Tree[T]) IsRoot() bool {
	return t.parent == nil
}

func (t *Tree[T]) IsLeafNode() bool {
	return len(t.children) == 0
}

func (t *Tree[T]) Payload() T {
	return t.payload
}

func (t *Tree[T]) Parent() *Tree[T] {
	return t.parent
}

func (t *Tree[T]) Depth() int {
	return t.depth
}

func (t *Tree[T]) Children() []*Tree[T] {
	return t.children
}

// Newick representation of the tree, e.g. ("b","c")"a";
func (t *Tree[T]) Newick() string {
	out := strings.Builder{}
	if len(t.children) > 0 {
		out.WriteString("(")
		for i, child := range t.children {
			if i > 0 {
				out.WriteString(",")
			}
			out.WriteString(child.Newick())
		}
		out.WriteString(")")
	}
	out.WriteString(fmt.Sprintf("%q", fmt.Sprint(t.payload)))
	if t.IsRoot() {
		out.WriteString(";")
	}
	return out.String()
}

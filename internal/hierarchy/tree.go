// Package hierarchy reconstructs nested parent/child structures from flat,
// order-annotated record lists.
package hierarchy

import "sort"

// FlatNode is one row of a flat collection. ParentID is empty for roots and
// must otherwise reference another node's ID within the same collection.
type FlatNode struct {
	ID       string
	ParentID string
	Order    int
	Payload  map[string]any
}

// TreeNode is a FlatNode placed in the hierarchy. Children is never nil so
// consumers do not branch on absence; Depth is zero for roots.
type TreeNode struct {
	FlatNode
	Depth    int
	Children []TreeNode
}

// Option adjusts tree construction without changing default behavior.
type Option func(*builder)

// WithDanglingObserver registers a callback invoked once for every node whose
// ParentID references no node in the input. The node is still dropped from
// the output; the observer only makes the drop visible to callers that want
// strict validation.
func WithDanglingObserver(observer func(FlatNode)) Option {
	return func(b *builder) {
		b.onDangling = observer
	}
}

type builder struct {
	nodes      []FlatNode
	onDangling func(FlatNode)
}

// Build converts the flat list into a forest of root nodes. Children of each
// parent are sorted ascending by Order; equal orders keep their input
// positions (stable sort, no secondary key). Nodes whose ParentID is present
// but references no input node are dropped silently. The input slice is not
// mutated.
//
// Each level filters the full list, so cost is quadratic in the node count.
// Collections here are tens of nodes; revisit only if that changes.
func Build(nodes []FlatNode, opts ...Option) []TreeNode {
	b := &builder{nodes: nodes}
	for _, opt := range opts {
		opt(b)
	}

	if b.onDangling != nil {
		known := make(map[string]struct{}, len(nodes))
		for _, node := range nodes {
			known[node.ID] = struct{}{}
		}
		for _, node := range nodes {
			if node.ParentID == "" {
				continue
			}
			if _, ok := known[node.ParentID]; !ok {
				b.onDangling(node)
			}
		}
	}

	return b.childrenOf("", 0)
}

// Count returns the total number of nodes across all depths of the forest.
func Count(forest []TreeNode) int {
	total := 0
	for _, node := range forest {
		total += 1 + Count(node.Children)
	}
	return total
}

// Walk visits every node of the forest depth-first in render order.
func Walk(forest []TreeNode, visit func(TreeNode)) {
	for _, node := range forest {
		visit(node)
		Walk(node.Children, visit)
	}
}

func (b *builder) childrenOf(parentID string, depth int) []TreeNode {
	siblings := make([]FlatNode, 0)
	for _, node := range b.nodes {
		if node.ParentID == parentID {
			siblings = append(siblings, node)
		}
	}
	sort.SliceStable(siblings, func(i, j int) bool {
		return siblings[i].Order < siblings[j].Order
	})

	result := make([]TreeNode, 0, len(siblings))
	for _, node := range siblings {
		result = append(result, TreeNode{
			FlatNode: node,
			Depth:    depth,
			Children: b.childrenOf(node.ID, depth+1),
		})
	}
	return result
}

package resource

import (
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/node"
)

// Index maps nodes to their owners.
//
// An owner set on a node applies to the node and everything inside it, so
// resolving an owner walks up the parent chain to the nearest node with an
// explicit owner. Resolutions are cached; the cache is dropped whenever an
// owner changes or the tree is reparented.
type Index struct {
	explicit map[node.Node]node.Node
	resolved map[node.Node]node.Node
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		explicit: make(map[node.Node]node.Node),
		resolved: make(map[node.Node]node.Node),
	}
}

// SetOwner makes owner responsible for scheduling n and its descendants.
// owner must be a strict ancestor of n.
func (x *Index) SetOwner(n, owner node.Node) error {
	if n == nil || owner == nil {
		return errors.New(errors.ErrCodePrecondition, "set owner: nil node")
	}
	if !contains(owner, n) {
		return errors.New(errors.ErrCodePrecondition, "set owner: owner does not contain node")
	}
	x.explicit[n] = owner
	x.Invalidate()
	return nil
}

// Owner returns the owner responsible for n, if any.
func (x *Index) Owner(n node.Node) (node.Node, bool) {
	if o, ok := x.resolved[n]; ok {
		return o, o != nil
	}
	var owner node.Node
	for cur := n; cur != nil; cur = cur.Parent() {
		if o, ok := x.explicit[cur]; ok {
			owner = o
			break
		}
	}
	x.resolved[n] = owner
	return owner, owner != nil
}

// Forget drops n's explicit owner, typically because n left the tree.
func (x *Index) Forget(n node.Node) {
	if _, ok := x.explicit[n]; ok {
		delete(x.explicit, n)
		x.Invalidate()
		return
	}
	delete(x.resolved, n)
}

// Invalidate drops every cached resolution. Call it after reparenting.
func (x *Index) Invalidate() {
	clear(x.resolved)
}

func contains(ancestor, n node.Node) bool {
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if cur == ancestor {
			return true
		}
	}
	return false
}

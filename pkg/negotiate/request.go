package negotiate

import (
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/outcome"
	"github.com/matzehuels/layoutsched/pkg/resource"
)

// Request is a pending size change for one resource.
type Request struct {
	Resource *resource.Resource
	Change   node.SizeChange

	// Force skips negotiation.
	Force bool

	// UserActivated marks requests triggered by a user gesture.
	UserActivated bool

	// Future resolves when the request is applied (success), denied
	// (SIZE_DENIED failure) or superseded (cancelled). Deferred requests
	// leave it pending.
	Future *outcome.Future
}

// Pending holds at most one request per resource, in arrival order.
type Pending struct {
	order []*Request
	byRes map[*resource.Resource]*Request
}

// NewPending returns an empty set.
func NewPending() *Pending {
	return &Pending{byRes: make(map[*resource.Resource]*Request)}
}

// Len returns the number of pending requests.
func (p *Pending) Len() int { return len(p.order) }

// Get returns the pending request for r.
func (p *Pending) Get(r *resource.Resource) (*Request, bool) {
	req, ok := p.byRes[r]
	return req, ok
}

// Add queues req. A request for a resource that already has one replaces
// its change and future, keeps its position and ORs the force flag. The
// replaced future resolves cancelled.
func (p *Pending) Add(req *Request) {
	if req.Future == nil {
		req.Future = outcome.New()
	}
	prev, ok := p.byRes[req.Resource]
	if !ok {
		p.order = append(p.order, req)
		p.byRes[req.Resource] = req
		return
	}
	prev.Change = req.Change
	prev.Force = prev.Force || req.Force
	prev.UserActivated = req.UserActivated
	if prev.Future != req.Future {
		prev.Future.Resolve(outcome.Cancellation("superseded by a newer size request"))
		prev.Future = req.Future
	}
}

// Take removes and returns every request.
func (p *Pending) Take() []*Request {
	out := p.order
	p.order = nil
	clear(p.byRes)
	return out
}

// Drop removes r's request, cancelling its future.
func (p *Pending) Drop(r *resource.Resource) bool {
	req, ok := p.byRes[r]
	if !ok {
		return false
	}
	delete(p.byRes, r)
	for i, q := range p.order {
		if q == req {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	req.Future.Resolve(outcome.Cancellation("resource removed"))
	return true
}

// ForEach calls fn for every pending request in arrival order.
func (p *Pending) ForEach(fn func(*Request)) {
	for _, req := range p.order {
		fn(req)
	}
}

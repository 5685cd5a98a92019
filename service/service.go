// Package service implements the service registry named in the
// GLOSSARY: "a tuple of user-visible feature strings published by a
// process; other processes look up and obtain an IPC endpoint to it by
// feature intersection." Backs SERVICE_CREATE/SERVICE_GET (§6.1).
//
// Each registered service gets a stable UUID token (wired per
// SPEC_FULL.md's domain stack; google/uuid appears indirectly in
// gvisor's go.mod and has no other natural home in this kernel).
package service

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Qwinci/crescent-sub002/defs"
)

// Registration is one published service.
type Registration struct {
	Token    uuid.UUID
	Owner    defs.Pid_t
	Features []string
	Endpoint defs.Handle_t // an IPC socket handle the publisher listens on
}

// Registry holds every currently-published service.
type Registry struct {
	mu   sync.RWMutex
	regs map[uuid.UUID]*Registration
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[uuid.UUID]*Registration)}
}

// Create publishes a new service and returns its token.
func (r *Registry) Create(owner defs.Pid_t, features []string, endpoint defs.Handle_t) uuid.UUID {
	tok := uuid.New()
	reg := &Registration{Token: tok, Owner: owner, Features: append([]string(nil), features...), Endpoint: endpoint}

	r.mu.Lock()
	r.regs[tok] = reg
	r.mu.Unlock()
	return tok
}

// Get finds a published service whose feature set is a superset of
// want (the "feature intersection" lookup named in the GLOSSARY).
// Registrations are searched in Go map order, which is unordered, so
// when several match, which one is returned is not defined; a more
// specific feature set narrows the matches.
func (r *Registry) Get(want []string) (*Registration, defs.Err_t) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.regs {
		if supersetOf(reg.Features, want) {
			return reg, 0
		}
	}
	return nil, defs.ErrNotExists
}

// Remove unpublishes a service, e.g. when its owning process exits.
func (r *Registry) Remove(tok uuid.UUID) {
	r.mu.Lock()
	delete(r.regs, tok)
	r.mu.Unlock()
}

func supersetOf(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, f := range have {
		set[f] = true
	}
	for _, f := range want {
		if !set[f] {
			return false
		}
	}
	return true
}

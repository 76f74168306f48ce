// Package tenant holds the active tenant ("entity") context.
//
// Every pipeline and reconciler call reads the context instead of shared
// globals. Switching tenants bumps a generation counter so results started
// under a superseded tenant can be recognised and discarded on completion.
package tenant

import (
	"errors"
	"strings"
	"sync"
)

// ErrNoTenant is returned when no tenant has been selected yet.
var ErrNoTenant = errors.New("tenant: no current tenant")

// Tag identifies a tenant selection. Two tags are equal only if they were
// captured under the same Switch call.
type Tag struct {
	ID         string
	Generation uint64
}

// Context is the process-wide tenant selection. The zero value has no tenant.
type Context struct {
	mu         sync.RWMutex
	id         string
	generation uint64
	onSwitch   []func(Tag)
}

// New returns a context already switched to id (may be empty).
func New(id string) *Context {
	c := &Context{}
	if id = strings.TrimSpace(id); id != "" {
		c.id = id
		c.generation = 1
	}
	return c
}

// Switch selects a new tenant and invalidates every previously captured Tag,
// even when id equals the current tenant.
func (c *Context) Switch(id string) Tag {
	c.mu.Lock()
	c.id = strings.TrimSpace(id)
	c.generation++
	tag := Tag{ID: c.id, Generation: c.generation}
	hooks := append([]func(Tag){}, c.onSwitch...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(tag)
	}
	return tag
}

// Current captures the active tenant.
func (c *Context) Current() (Tag, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.id == "" {
		return Tag{}, ErrNoTenant
	}
	return Tag{ID: c.id, Generation: c.generation}, nil
}

// ID returns the active tenant id, or "" when none is selected.
func (c *Context) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Valid reports whether tag is still the active selection.
func (c *Context) Valid(tag Tag) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id != "" && tag.ID == c.id && tag.Generation == c.generation
}

// OnSwitch registers fn to run after every Switch. Hooks run outside the lock.
func (c *Context) OnSwitch(fn func(Tag)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onSwitch = append(c.onSwitch, fn)
	c.mu.Unlock()
}

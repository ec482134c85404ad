// Package registry is the read-only catalog of recurring work and the lookup table
// from entry point names to factories. It is built once at startup and passed
// explicitly to the scheduler and the worker pool.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"inquisitor/internal/jobs"
)

var (
	ErrEmptyRegistry     = errors.New("registry: no work descriptors configured")
	ErrUnknownEntryPoint = errors.New("registry: unknown entry point")
)

type Registry struct {
	descs     []jobs.Descriptor
	byKind    map[jobs.Kind][]jobs.Descriptor
	factories map[string]Factory
}

// New validates descs against factories. Every failure here is a configuration fault:
// the process must not start with a registry it cannot execute.
func New(descs []jobs.Descriptor, factories map[string]Factory) (*Registry, error) {
	if len(descs) == 0 {
		return nil, ErrEmptyRegistry
	}
	r := &Registry{
		byKind:    make(map[jobs.Kind][]jobs.Descriptor, len(jobs.Kinds)),
		factories: make(map[string]Factory, len(factories)),
	}
	for k, f := range factories {
		k = strings.TrimSpace(k)
		if k == "" || f == nil {
			continue
		}
		r.factories[k] = f
	}

	seen := make(map[string]struct{}, len(descs))
	for i, d := range descs {
		d.Name = strings.TrimSpace(d.Name)
		d.EntryPoint = strings.TrimSpace(d.EntryPoint)
		if d.Name == "" {
			return nil, fmt.Errorf("registry: descriptor %d: name required", i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate descriptor %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("registry: descriptor %q: invalid kind %q", d.Name, d.Kind)
		}
		if d.Interval <= 0 {
			return nil, fmt.Errorf("registry: descriptor %q: interval must be > 0", d.Name)
		}
		if _, ok := r.factories[d.EntryPoint]; !ok {
			return nil, fmt.Errorf("%w: %q (descriptor %q)", ErrUnknownEntryPoint, d.EntryPoint, d.Name)
		}
		r.descs = append(r.descs, d)
		r.byKind[d.Kind] = append(r.byKind[d.Kind], d)
	}
	for k := range r.byKind {
		list := r.byKind[k]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return r, nil
}

// ListWorkDescriptors returns the collectors of kind k, sorted by name.
func (r *Registry) ListWorkDescriptors(k jobs.Kind) []jobs.Descriptor {
	if r == nil {
		return nil
	}
	return append([]jobs.Descriptor(nil), r.byKind[k]...)
}

func (r *Registry) ListAuditors() []jobs.Descriptor {
	return r.ListWorkDescriptors(jobs.KindAuditor)
}

// Descriptors returns every descriptor in configuration order.
func (r *Registry) Descriptors() []jobs.Descriptor {
	if r == nil {
		return nil
	}
	return append([]jobs.Descriptor(nil), r.descs...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.descs)
}

// Resolve returns the factory registered for entryPoint.
func (r *Registry) Resolve(entryPoint string) (Factory, error) {
	if r != nil {
		if f, ok := r.factories[strings.TrimSpace(entryPoint)]; ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, entryPoint)
}

// Validate re-checks that every descriptor still resolves. Worker start calls it.
func (r *Registry) Validate() error {
	if r.Len() == 0 {
		return ErrEmptyRegistry
	}
	for _, d := range r.descs {
		if _, err := r.Resolve(d.EntryPoint); err != nil {
			return fmt.Errorf("descriptor %q: %w", d.Name, err)
		}
	}
	return nil
}

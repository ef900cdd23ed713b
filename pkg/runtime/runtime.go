// Copyright 2025 Certen Protocol
//
// Runtime: the composition of every user module (§4.F). Resolves genesis
// dependency order at construction (a cycle, missing dependency, or
// duplicate module ID is a fatal startup error per §6) and routes
// DispatchCall to the addressed module.
package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/state"
)

// SlotHooks is implemented by modules that need to observe slot
// boundaries (§4.H steps 3 and 6).
type SlotHooks interface {
	BeginSlotHook(visibleHash [32]byte, accessor state.Accessor) error
	EndSlotHook(accessor state.Accessor) error
}

// GenesisDoc maps module ID -> that module's raw genesis config (§6
// "Genesis: a structured document providing each module's config").
type GenesisDoc map[string]json.RawMessage

// Runtime owns the ordered module set and dispatches calls into it.
type Runtime struct {
	modules []module.Module
	byID    map[string]module.Module
}

// New resolves genesis dependency order over mods and returns a Runtime, or
// a fatal startup error (§6) if the dependency graph is malformed.
func New(mods []module.Module) (*Runtime, error) {
	byID := make(map[string]module.Module, len(mods))
	for _, m := range mods {
		if _, dup := byID[m.ID()]; dup {
			return nil, fmt.Errorf("runtime: duplicate module id %q", m.ID())
		}
		byID[m.ID()] = m
	}
	ordered, err := topoSort(mods, byID)
	if err != nil {
		return nil, err
	}
	return &Runtime{modules: ordered, byID: byID}, nil
}

func topoSort(mods []module.Module, byID map[string]module.Module) ([]module.Module, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(mods))
	var ordered []module.Module

	var visit func(m module.Module) error
	visit = func(m module.Module) error {
		switch color[m.ID()] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("runtime: dependency cycle involving module %q", m.ID())
		}
		color[m.ID()] = gray
		for _, depID := range m.Dependencies() {
			dep, ok := byID[depID]
			if !ok {
				return fmt.Errorf("runtime: module %q depends on unknown module %q", m.ID(), depID)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[m.ID()] = black
		ordered = append(ordered, m)
		return nil
	}

	for _, m := range mods {
		if err := visit(m); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Genesis runs every module's Genesis hook in dependency order.
func (r *Runtime) Genesis(doc GenesisDoc, accessor state.Accessor) error {
	for _, m := range r.modules {
		cfg, ok := doc[m.ID()]
		if !ok {
			cfg = json.RawMessage("null")
		}
		if err := m.Genesis(cfg, accessor); err != nil {
			return fmt.Errorf("runtime: genesis for module %q: %w", m.ID(), err)
		}
	}
	return nil
}

// BeginSlotHook runs every SlotHooks-implementing module's begin hook, in
// dependency order (§4.H step 3).
func (r *Runtime) BeginSlotHook(visibleHash [32]byte, accessor state.Accessor) error {
	for _, m := range r.modules {
		if hooked, ok := m.(SlotHooks); ok {
			if err := hooked.BeginSlotHook(visibleHash, accessor); err != nil {
				return fmt.Errorf("runtime: begin_slot_hook for module %q: %w", m.ID(), err)
			}
		}
	}
	return nil
}

// EndSlotHook runs every SlotHooks-implementing module's end hook (§4.H
// step 6), in reverse dependency order so dependents finalize before their
// dependencies.
func (r *Runtime) EndSlotHook(accessor state.Accessor) error {
	for i := len(r.modules) - 1; i >= 0; i-- {
		m := r.modules[i]
		if hooked, ok := m.(SlotHooks); ok {
			if err := hooked.EndSlotHook(accessor); err != nil {
				return fmt.Errorf("runtime: end_slot_hook for module %q: %w", m.ID(), err)
			}
		}
	}
	return nil
}

// DispatchCall routes a decoded call to its target module (§4.H.1 step 7).
func (r *Runtime) DispatchCall(call module.Call, ctx module.Context, ws *state.WorkingSet) (*module.CallResponse, error) {
	m, ok := r.byID[call.ModuleID]
	if !ok {
		return nil, fmt.Errorf("runtime: no such module %q", call.ModuleID)
	}
	return m.DispatchCall(call.Payload, ctx, ws)
}

// Module looks up a module by ID, for callers (tests, the sequencer
// capability) that need direct typed access.
func (r *Runtime) Module(id string) (module.Module, bool) {
	m, ok := r.byID[id]
	return m, ok
}

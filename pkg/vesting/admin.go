package vesting

import (
	"context"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Initialize seeds the admin registry. It succeeds exactly once per store.
func (engine *Engine) Initialize(ctx context.Context, admins []string) (status Status, err error) {
	ctx, span := engine.startSpan(ctx, "Initialize", attribute.Int("vesting.admins", len(admins)))
	defer func() { endSpan(span, err) }()

	registry := mapset.NewThreadUnsafeSet[string]()
	for _, admin := range admins {
		if trimmed := strings.TrimSpace(admin); trimmed != "" {
			registry.Add(trimmed)
		}
	}
	if registry.Cardinality() == 0 {
		return Status{}, newError(CodeInvalidParameters, "", "at least one admin is required")
	}

	control, err := engine.store.UpdateControl(ctx, func(ctx context.Context, state *ControlState) error {
		if state.Initialized {
			return newError(CodeAlreadyInitialized, "", "admin registry already initialized")
		}
		state.Admins = sortedAddresses(registry)
		state.Initialized = true
		state.Paused = false
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	engine.logger.Info("vesting admin registry initialized", zap.Strings("admins", control.Admins))
	engine.emit(ctx, Event{Type: EventInitialized, Actor: control.Admins[0]})
	return statusFromControl(control), nil
}

// Pause moves the engine from Active to Paused.
func (engine *Engine) Pause(ctx context.Context, caller string) (Status, error) {
	return engine.setPaused(ctx, caller, true)
}

// Unpause moves the engine from Paused to Active.
func (engine *Engine) Unpause(ctx context.Context, caller string) (Status, error) {
	return engine.setPaused(ctx, caller, false)
}

func (engine *Engine) setPaused(ctx context.Context, caller string, paused bool) (status Status, err error) {
	ctx, span := engine.startSpan(ctx, "SetPaused",
		attribute.String("vesting.caller", caller),
		attribute.Bool("vesting.paused", paused),
	)
	defer func() { endSpan(span, err) }()

	control, err := engine.store.UpdateControl(ctx, func(ctx context.Context, state *ControlState) error {
		if err := requireAdmin(*state, caller); err != nil {
			return err
		}
		if state.Paused == paused {
			if paused {
				return newError(CodeInvalidParameters, "", "vesting is already paused")
			}
			return newError(CodeInvalidParameters, "", "vesting is not paused")
		}
		state.Paused = paused
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	eventType := EventUnpaused
	if paused {
		eventType = EventPaused
	}
	engine.logger.Info("vesting pause state changed", zap.Bool("paused", paused), zap.String("caller", caller))
	engine.emit(ctx, Event{Type: eventType, Actor: caller})
	return statusFromControl(control), nil
}

// AddAdmin grants admin rights to address.
func (engine *Engine) AddAdmin(ctx context.Context, address string, caller string) (status Status, err error) {
	ctx, span := engine.startSpan(ctx, "AddAdmin", attribute.String("vesting.caller", caller))
	defer func() { endSpan(span, err) }()

	candidate := strings.TrimSpace(address)
	if candidate == "" {
		return Status{}, newError(CodeInvalidParameters, "", "admin address is required")
	}

	control, err := engine.store.UpdateControl(ctx, func(ctx context.Context, state *ControlState) error {
		if err := requireAdmin(*state, caller); err != nil {
			return err
		}
		registry := mapset.NewThreadUnsafeSet[string](state.Admins...)
		if !registry.Add(candidate) {
			return newError(CodeInvalidParameters, "", "%q is already an admin", candidate)
		}
		state.Admins = sortedAddresses(registry)
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	engine.logger.Info("vesting admin added", zap.String("admin", candidate), zap.String("caller", caller))
	engine.emit(ctx, Event{Type: EventAdminAdded, Actor: caller, Subject: candidate})
	return statusFromControl(control), nil
}

// RemoveAdmin revokes admin rights. The last admin can never be removed.
func (engine *Engine) RemoveAdmin(ctx context.Context, address string, caller string) (status Status, err error) {
	ctx, span := engine.startSpan(ctx, "RemoveAdmin", attribute.String("vesting.caller", caller))
	defer func() { endSpan(span, err) }()

	candidate := strings.TrimSpace(address)

	control, err := engine.store.UpdateControl(ctx, func(ctx context.Context, state *ControlState) error {
		if err := requireAdmin(*state, caller); err != nil {
			return err
		}
		registry := mapset.NewThreadUnsafeSet[string](state.Admins...)
		if !registry.Contains(candidate) {
			return newError(CodeInvalidParameters, "", "%q is not an admin", candidate)
		}
		if registry.Cardinality() == 1 {
			return newError(CodeCannotRemoveLastAdmin, "", "cannot remove the last admin %q", candidate)
		}
		registry.Remove(candidate)
		state.Admins = sortedAddresses(registry)
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	engine.logger.Info("vesting admin removed", zap.String("admin", candidate), zap.String("caller", caller))
	engine.emit(ctx, Event{Type: EventAdminRemoved, Actor: caller, Subject: candidate})
	return statusFromControl(control), nil
}

// IsAdmin reports whether address is in the admin registry.
func (engine *Engine) IsAdmin(ctx context.Context, address string) (bool, error) {
	control, err := engine.store.LoadControl(ctx)
	if err != nil {
		return false, err
	}
	return containsAddress(control.Admins, address), nil
}

// Admins returns the registry in sorted order.
func (engine *Engine) Admins(ctx context.Context) ([]string, error) {
	control, err := engine.store.LoadControl(ctx)
	if err != nil {
		return nil, err
	}
	return control.Admins, nil
}

// Status returns the global pause flag and admin registry.
func (engine *Engine) Status(ctx context.Context) (Status, error) {
	control, err := engine.store.LoadControl(ctx)
	if err != nil {
		return Status{}, err
	}
	return statusFromControl(control), nil
}

func statusFromControl(control ControlState) Status {
	admins := append([]string{}, control.Admins...)
	return Status{
		Paused:      control.Paused,
		Initialized: control.Initialized,
		Admins:      admins,
	}
}

func sortedAddresses(registry mapset.Set[string]) []string {
	addresses := registry.ToSlice()
	sort.Strings(addresses)
	return addresses
}

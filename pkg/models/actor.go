// Package models contains domain types for kgforge-engine.
package models

import (
	"context"

	"github.com/google/uuid"
)

// ActorSource represents how a write operation was initiated.
type ActorSource string

const (
	ActorSourceImport ActorSource = "import" // Ontology file import
	ActorSourceEditor ActorSource = "editor" // Direct edit via UI
	ActorSourceSystem ActorSource = "system" // Engine-initiated (sync, rollback replay)
)

// String returns the string representation of an ActorSource.
func (s ActorSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a known actor source.
func (s ActorSource) IsValid() bool {
	switch s {
	case ActorSourceImport, ActorSourceEditor, ActorSourceSystem:
		return true
	default:
		return false
	}
}

// ActorContext carries who triggered an operation and how. It flows through
// version creation, rollback and audit writes.
type ActorContext struct {
	Source ActorSource
	UserID uuid.UUID
}

type actorKey struct{}

// WithActor returns a new context with actor information attached.
func WithActor(ctx context.Context, a ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// GetActor retrieves actor information from the context.
func GetActor(ctx context.Context) (ActorContext, bool) {
	a, ok := ctx.Value(actorKey{}).(ActorContext)
	return a, ok
}

// SystemActor returns a context attributed to the engine itself. Used by
// background workers that replay versions or finalize sync runs.
func SystemActor(ctx context.Context) context.Context {
	return WithActor(ctx, ActorContext{Source: ActorSourceSystem})
}

package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrUnknownArchetype is returned by PatchRoutine when a non-nil archetype
// label is not one of the six recognized labels. The record is left unchanged.
var ErrUnknownArchetype = errors.New("storage: unknown archetype")

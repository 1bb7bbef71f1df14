// Package model defines the core entities of the Universe Map and their
// invariants (§3): Project, Node, Edge, NodePatch, RunConfig, Run,
// TelemetryBlob, GroundTruthDataset/Label, CalibrationJob/Iteration, and
// ParameterVersion.
package model

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier, §3.
type ID = uuid.UUID

// NewID returns a fresh random identifier.
func NewID() ID { return uuid.New() }

// ZeroID is the nil identifier, used for "no parent" references.
var ZeroID ID

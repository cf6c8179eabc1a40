package middle

import (
	"errors"
	"fmt"

	"github.com/wegman-software/osmingest-go/internal/idstore"
)

// Fault classes. Every per-entity fault matches exactly one of these with
// errors.Is; store failures match ErrIO.
var (
	ErrIO                  = idstore.ErrIO
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrSpatialInsert       = errors.New("spatial insert rejected")
)

// Fault is a problem with a single entity. The entity is dropped (pass 1) or
// left out of the spatial index (pass 2); the run continues.
type Fault struct {
	Class  error // one of the fault classes above
	Kind   Kind
	ID     int64
	Ref    int64 // referenced id, for unresolved references
	RefOf  Kind  // kind of Ref
	Reason string
	Cause  error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s %d: %v", f.Kind, f.ID, f.Class)
	if f.Ref != 0 {
		msg += fmt.Sprintf(" to %s %d", f.RefOf, f.Ref)
	}
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *Fault) Unwrap() []error {
	if f.Cause != nil {
		return []error{f.Class, f.Cause}
	}
	return []error{f.Class}
}

// Unresolved builds a fault for a reference to an entity that is not stored.
func Unresolved(kind Kind, id int64, refOf Kind, ref int64) *Fault {
	return &Fault{Class: ErrUnresolvedReference, Kind: kind, ID: id, RefOf: refOf, Ref: ref}
}

// Malformed builds a fault for an entity that violates the expected shape.
func Malformed(kind Kind, id int64, format string, args ...any) *Fault {
	return &Fault{Class: ErrMalformedRecord, Kind: kind, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// InsertRejected builds a fault for an entry the spatial index refused.
func InsertRejected(kind Kind, id int64, cause error) *Fault {
	return &Fault{Class: ErrSpatialInsert, Kind: kind, ID: id, Cause: cause}
}

// FaultClass returns the name used for a fault class in counters and logs.
func FaultClass(err error) string {
	switch {
	case errors.Is(err, ErrUnresolvedReference):
		return "unresolved_reference"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrSpatialInsert):
		return "spatial_insert"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "other"
	}
}

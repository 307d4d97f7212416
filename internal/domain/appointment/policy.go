package appointment

import (
	"github.com/google/uuid"

	"github.com/healthsync/healthsync/internal/domain/identity"
	"github.com/healthsync/healthsync/internal/platform/apperr"
)

// Operation is an action on the appointment surface.
type Operation int

const (
	OpList Operation = iota
	OpRead
	OpCreate
	OpUpdate
	OpDelete
	OpCount
)

func (o Operation) String() string {
	switch o {
	case OpList:
		return "list"
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCount:
		return "count"
	}
	return "unknown"
}

// ScopeKind selects which appointments a listing may see.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeDoctor
)

// Scope narrows a listing. DoctorID is set only for ScopeDoctor.
type Scope struct {
	Kind     ScopeKind
	DoctorID uuid.UUID
}

func denied(op Operation) error {
	return apperr.Forbidden("permission_denied", "you do not have permission to "+op.String()+" appointments")
}

// Authorize is the capability check made before any store access.
func Authorize(p identity.Principal, op Operation) error {
	switch p.(type) {
	case identity.Admin:
		return nil
	case identity.Doctor:
		if op == OpList || op == OpRead {
			return nil
		}
	case identity.Patient, identity.Plain:
		// listing is allowed but sees nothing
		if op == OpList {
			return nil
		}
	}
	return denied(op)
}

// AuthorizeObject is the per-appointment check made after the lookup.
func AuthorizeObject(p identity.Principal, op Operation, a *Appointment) error {
	switch v := p.(type) {
	case identity.Admin:
		return nil
	case identity.Doctor:
		if op == OpRead && a.DoctorID == v.DoctorID {
			return nil
		}
	}
	return denied(op)
}

// ListScope returns the subset of appointments p may list.
func ListScope(p identity.Principal) Scope {
	switch v := p.(type) {
	case identity.Admin:
		return Scope{Kind: ScopeAll}
	case identity.Doctor:
		return Scope{Kind: ScopeDoctor, DoctorID: v.DoctorID}
	default:
		return Scope{Kind: ScopeNone}
	}
}

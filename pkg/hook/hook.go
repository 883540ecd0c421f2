// Package hook defines the event types exchanged with directory hooks and
// the narrow surface a host request pipeline exposes to them.
package hook

import (
	"context"
)

// BindHandler runs when a bind request enters the pipeline. It does not
// decide the bind; it may chain callbacks onto the request's responses.
type BindHandler func(ctx context.Context, req *BindRequest, responses *Responses)

// PasswdHandler runs before the host's own password modify logic.
// Bypass means the request is fully handled, Continue means the host
// proceeds as if no handler were installed, and a non-nil error fails it.
type PasswdHandler func(ctx context.Context, req *PasswdRequest) (Decision, error)

// Registrar is implemented by hosts that accept hook handlers
type Registrar interface {
	// HandleBind adds a handler invoked for every bind request
	HandleBind(h BindHandler)

	// HandlePasswd installs the handler for password modify requests
	HandlePasswd(h PasswdHandler)
}

// Entry is a read-only view of a stored directory entry. Release must be
// called exactly once when the caller is done with it.
type Entry interface {
	// Attribute returns the first value of the named attribute
	Attribute(name string) ([]byte, bool)
	Release()
}

// EntryStore fetches entries by DN. Missing entries are reported as an
// *ldap.Error with LDAPResultNoSuchObject.
type EntryStore interface {
	FetchEntry(ctx context.Context, dn string) (Entry, error)
}

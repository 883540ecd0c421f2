package hook

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// AuthMethod is the bind authentication choice as carried on the wire.
type AuthMethod int

const (
	AuthSimple AuthMethod = 0x80 // Simple (password) bind
	AuthSASL   AuthMethod = 0xa3 // SASL bind
)

// BindRequest describes a bind that the host has accepted.
type BindRequest struct {
	MsgID      int64
	DN         string
	Method     AuthMethod
	Credential []byte // may contain NUL bytes
}

// PasswdRequest describes a password modify extended operation.
type PasswdRequest struct {
	MsgID         int64
	DN            string
	OldCredential []byte
	NewCredential []byte
}

// Decision is the outcome of consulting a helper
type Decision int

const (
	// Continue lets the host run its normal logic
	Continue Decision = iota
	// Bypass marks the request as already handled
	Bypass
	// Error means the helper could not be consulted; the request fails
	Error
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Bypass:
		return "bypass"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Reply is the result a request is about to report. Response callbacks
// may rewrite it before it reaches the client.
type Reply struct {
	Code uint16
	Err  error
}

// Succeeded reports whether the reply carries a success result.
func (r *Reply) Succeeded() bool {
	return r.Code == ldap.LDAPResultSuccess && r.Err == nil
}

// Fail replaces the reply with the given result code and error.
func (r *Reply) Fail(code uint16, err error) {
	r.Code = code
	r.Err = ldap.NewError(code, err)
}

// Package interceptor hands directory events to external helper
// processes and applies their verdicts to the request.
//
// Each event spawns its own helper and blocks the calling request until
// the helper has read its input and exited. There is no timeout: a
// helper that never exits stalls the request.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-ldap/ldap/v3"

	"github.com/codysoyland/ldaphooks/pkg/channel"
	"github.com/codysoyland/ldaphooks/pkg/hook"
	"github.com/codysoyland/ldaphooks/pkg/protocol"
)

// AttrUserPassword is the attribute holding an entry's stored credential.
const AttrUserPassword = "userPassword"

// errExternal is what clients see when a helper cannot be consulted.
var errExternal = errors.New("external authentication helper failed")

func externalFailure() error {
	return ldap.NewError(ldap.LDAPResultOther, errExternal)
}

// Bind sends a notification to the bind helper after a bind succeeds.
type Bind struct {
	state   *State
	verbose bool
}

// NewBind creates a bind interceptor reading its helper path from state.
func NewBind(state *State, verbose bool) *Bind {
	return &Bind{state: state, verbose: verbose}
}

// HandleBind chains a notification onto the request's response stage
// when a bind helper is configured. It never affects the bind itself.
func (b *Bind) HandleBind(_ context.Context, req *hook.BindRequest, responses *hook.Responses) {
	if !b.state.BindEnabled() {
		return
	}
	responses.OnResponse(func(ctx context.Context, reply *hook.Reply) {
		b.notify(ctx, req, reply)
	})
}

// notify runs once the bind result is final. Failed binds are not
// reported. If the helper cannot be started the bind fails, so a broken
// integration is visible to the client.
func (b *Bind) notify(_ context.Context, req *hook.BindRequest, reply *hook.Reply) {
	if !reply.Succeeded() {
		return
	}
	path := b.state.BindScriptPath
	if path == "" {
		return
	}

	ch, err := channel.OpenWriteOnly(path)
	if err != nil {
		log.Printf("[ERROR] Bind notification for msgid %d: %v", req.MsgID, err)
		reply.Fail(ldap.LDAPResultOther, errExternal)
		return
	}

	// Once the helper is running, it owns what happens to the event.
	if err := protocol.WriteBind(ch.Writer(), req); err != nil && b.verbose {
		log.Printf("[INFO] Bind helper %s did not take the event: %v", path, err)
	}
	if err := ch.Close(); err != nil && b.verbose {
		log.Printf("[INFO] Bind helper %s: %v", path, err)
	}

	if b.verbose {
		log.Printf("[INFO] Bind notification sent for msgid %d (exit %d)", req.MsgID, ch.ExitCode())
	}
}

// Passwd asks the password helper whether a password modify request is
// already handled.
type Passwd struct {
	state   *State
	store   hook.EntryStore
	verbose bool
}

// NewPasswd creates a password modify interceptor. store may be nil, in
// which case helpers never receive a stored credential.
func NewPasswd(state *State, store hook.EntryStore, verbose bool) *Passwd {
	return &Passwd{state: state, store: store, verbose: verbose}
}

// HandlePasswd consults the helper, if one is configured, and returns
// its decision. The returned error is an *ldap.Error suitable for the
// client whenever the decision is hook.Error.
func (p *Passwd) HandlePasswd(ctx context.Context, req *hook.PasswdRequest) (hook.Decision, error) {
	path := p.state.PasswdScriptPath
	if path == "" {
		return hook.Continue, nil
	}

	stored, release, err := p.storedCredential(ctx, req.DN)
	if err != nil {
		log.Printf("[ERROR] Password modify for msgid %d: %v", req.MsgID, err)
		return hook.Error, externalFailure()
	}
	defer release()

	ch, err := channel.Open(path)
	if err != nil {
		log.Printf("[ERROR] Password modify for msgid %d: %v", req.MsgID, err)
		return hook.Error, externalFailure()
	}

	decision := p.exchange(ch, req, stored)

	if err := ch.Close(); err != nil && p.verbose {
		log.Printf("[INFO] Password helper %s: %v", path, err)
	}

	if p.verbose {
		log.Printf("[INFO] Password modify for msgid %d: %s", req.MsgID, decision)
	}
	return decision, nil
}

// exchange writes the event and reads the reply. Write and read
// failures leave the decision at Continue.
func (p *Passwd) exchange(ch *channel.Channel, req *hook.PasswdRequest, stored []byte) hook.Decision {
	if err := protocol.WritePasswd(ch.Writer(), req, stored); err != nil && p.verbose {
		log.Printf("[INFO] Password helper %s did not take the event: %v", ch.Path(), err)
	}
	if err := ch.CloseWrite(); err != nil && p.verbose {
		log.Printf("[INFO] Password helper %s: %v", ch.Path(), err)
	}

	decision, err := protocol.ReadDecision(ch.Reader())
	if err != nil && p.verbose {
		log.Printf("[INFO] Password helper %s: %v", ch.Path(), err)
	}
	return decision
}

// storedCredential fetches the entry's userPassword. A missing entry or
// attribute is not an error and yields nil. The release func must be
// called once the value is no longer needed.
func (p *Passwd) storedCredential(ctx context.Context, dn string) ([]byte, func(), error) {
	noop := func() {}
	if p.store == nil {
		return nil, noop, nil
	}

	entry, err := p.store.FetchEntry(ctx, dn)
	if err != nil {
		if ldap.IsErrorAnyOf(err, ldap.LDAPResultNoSuchObject, ldap.LDAPResultNoSuchAttribute) {
			return nil, noop, nil
		}
		return nil, noop, fmt.Errorf("failed to fetch entry %q: %w", dn, err)
	}

	value, ok := entry.Attribute(AttrUserPassword)
	if !ok {
		return nil, entry.Release, nil
	}
	if value == nil {
		value = []byte{}
	}
	return value, entry.Release, nil
}

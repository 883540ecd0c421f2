// Package ldaphooks attaches external helper processes to a directory
// server's bind and password modify operations.
package ldaphooks

import (
	"context"
	"fmt"
	"log"

	"github.com/codysoyland/ldaphooks/pkg/hook"
	"github.com/codysoyland/ldaphooks/pkg/interceptor"
)

// New creates a new Overlay instance
func New(opts ...Option) (*Overlay, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// The state is shared by reference with both interceptors and every
	// response callback they register. It outlives individual requests.
	state := interceptor.NewState()
	state.BindScriptPath = config.BindScriptPath
	state.PasswdScriptPath = config.PasswdScriptPath

	if config.Verbose {
		log.Printf("[INFO] Overlay configured: bind helper %q, passwd helper %q",
			state.BindScriptPath, state.PasswdScriptPath)
	}

	return &Overlay{
		config: config,
		state:  state,
		bind:   interceptor.NewBind(state, config.Verbose),
		passwd: interceptor.NewPasswd(state, config.Store, config.Verbose),
	}, nil
}

// Register installs the overlay's handlers on a host. The bind handler
// runs for every bind and chains a one-shot response callback; the
// password modify handler stays installed for the overlay's lifetime.
func (o *Overlay) Register(r hook.Registrar) {
	r.HandleBind(o.bind.HandleBind)
	r.HandlePasswd(o.passwd.HandlePasswd)
}

// State returns the overlay's configuration state
func (o *Overlay) State() *interceptor.State {
	return o.state
}

// FireBind runs a complete bind notification for a bind that has
// already succeeded, without a host. It returns the error the bind
// would report, if any.
func (o *Overlay) FireBind(ctx context.Context, req *hook.BindRequest) error {
	responses := &hook.Responses{}
	o.bind.HandleBind(ctx, req, responses)

	reply := &hook.Reply{}
	responses.Finalize(ctx, reply)
	return reply.Err
}

// FirePasswd consults the password helper for req without a host.
func (o *Overlay) FirePasswd(ctx context.Context, req *hook.PasswdRequest) (hook.Decision, error) {
	return o.passwd.HandlePasswd(ctx, req)
}

// Close releases the configuration state. It must not be called while
// the host is still serving requests through this overlay.
func (o *Overlay) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.state.Release()

	if o.config.Verbose {
		log.Printf("[INFO] Overlay closed")
	}
	return nil
}

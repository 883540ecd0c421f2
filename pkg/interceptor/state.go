package interceptor

// State holds the helper paths configured for one overlay instance. It
// is written while the overlay is set up and torn down, and only read
// while requests are being served. An empty path disables the hook for
// that event kind.
type State struct {
	BindScriptPath   string
	PasswdScriptPath string

	released bool
}

// NewState returns a State with both hooks disabled.
func NewState() *State {
	return &State{}
}

// BindEnabled reports whether bind notifications are configured
func (s *State) BindEnabled() bool {
	return s != nil && s.BindScriptPath != ""
}

// PasswdEnabled reports whether password modify requests are sent to a helper
func (s *State) PasswdEnabled() bool {
	return s != nil && s.PasswdScriptPath != ""
}

// Release clears the configured paths. Only the first call has any effect.
func (s *State) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.BindScriptPath = ""
	s.PasswdScriptPath = ""
}

// Released reports whether Release has been called.
func (s *State) Released() bool {
	return s != nil && s.released
}

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/codysoyland/ldaphooks/pkg/hook"
)

const (
	// MaxLineBytes bounds a decision line. Anything past it is dropped.
	MaxLineBytes = 256

	// MaxEventBytes caps the size of an event read by ReadEvent.
	MaxEventBytes = 64 * 1024 // 64 KiB
)

// ReadDecision reads the helper's reply from r. The first non-empty line
// decides: a case-insensitive "OK" prefix means Bypass, anything else
// means Continue. End of stream before such a line also means Continue.
//
// A read error other than an interrupted call ends the read as if the
// stream had ended. The error is returned alongside Continue so callers
// can log it; the decision is still usable.
func ReadDecision(r io.Reader) (hook.Decision, error) {
	br := bufio.NewReader(retryReader{r})
	for {
		line, err := readLine(br, MaxLineBytes)
		if len(line) > 0 {
			return classify(line), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return hook.Continue, nil
			}
			return hook.Continue, fmt.Errorf("failed to read decision: %w", err)
		}
	}
}

func classify(line []byte) hook.Decision {
	if len(line) >= 2 && bytes.EqualFold(line[:2], []byte("OK")) {
		return hook.Bypass
	}
	return hook.Continue
}

// readLine returns the next line without its terminator, keeping at most
// max bytes of it. A final line without a newline is returned together
// with the error that ended it.
func readLine(br *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return bytes.TrimSuffix(line, []byte("\r")), err
		}
		if b == '\n' {
			return bytes.TrimSuffix(line, []byte("\r")), nil
		}
		if len(line) < max {
			line = append(line, b)
		}
	}
}

// retryReader retries reads interrupted by a signal.
type retryReader struct {
	r io.Reader
}

func (rr retryReader) Read(p []byte) (int, error) {
	for {
		n, err := rr.r.Read(p)
		if n == 0 && errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// Event is a parsed event payload, as seen by a helper.
type Event struct {
	Kind   string
	Keys   []string
	Fields map[string][]byte
}

// Get returns the value of a field.
func (e *Event) Get(key string) ([]byte, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

// Int parses a numeric field.
func (e *Event) Int(key string) (int64, error) {
	v, ok := e.Fields[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return n, nil
}

// BindRequest converts a BINDSUCCESS event back into a request.
func (e *Event) BindRequest() (*hook.BindRequest, error) {
	if e.Kind != KindBind {
		return nil, fmt.Errorf("not a bind event: %s", e.Kind)
	}
	msgID, err := e.Int(FieldMsgID)
	if err != nil {
		return nil, err
	}
	method, err := e.Int(FieldMethod)
	if err != nil {
		return nil, err
	}
	dn, _ := e.Get(FieldDN)
	cred, _ := e.Get(FieldCred)
	return &hook.BindRequest{
		MsgID:      msgID,
		DN:         string(dn),
		Method:     hook.AuthMethod(method),
		Credential: cred,
	}, nil
}

// PasswdRequest converts a PASSWD event back into a request and the
// stored credential, which is nil when the event carried none.
func (e *Event) PasswdRequest() (*hook.PasswdRequest, []byte, error) {
	if e.Kind != KindPasswd {
		return nil, nil, fmt.Errorf("not a passwd event: %s", e.Kind)
	}
	msgID, err := e.Int(FieldMsgID)
	if err != nil {
		return nil, nil, err
	}
	dn, _ := e.Get(FieldDN)
	oldCred, _ := e.Get(FieldOldCred)
	newCred, _ := e.Get(FieldNewCred)
	stored, _ := e.Get(FieldUserPassword)
	return &hook.PasswdRequest{
		MsgID:         msgID,
		DN:            string(dn),
		OldCredential: oldCred,
		NewCredential: newCred,
	}, stored, nil
}

// ReadEvent reads a whole event from r, which must end at end of stream.
// The cred value of a bind event is read using credlen, so it may hold
// any bytes including newlines.
func ReadEvent(r io.Reader) (*Event, error) {
	data, err := io.ReadAll(io.LimitReader(retryReader{r}, MaxEventBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	if len(data) > MaxEventBytes {
		return nil, fmt.Errorf("event exceeds %d bytes", MaxEventBytes)
	}

	kind, rest, _ := bytes.Cut(data, []byte("\n"))
	ev := &Event{Kind: string(kind), Fields: make(map[string][]byte)}
	if ev.Kind != KindBind && ev.Kind != KindPasswd {
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	credLen := -1
	for len(rest) > 0 {
		key, after, ok := bytes.Cut(rest, []byte(": "))
		if !ok || bytes.IndexByte(key, '\n') >= 0 {
			return nil, fmt.Errorf("malformed line in %s event", ev.Kind)
		}

		var value []byte
		if string(key) == FieldCred && credLen >= 0 {
			if len(after) < credLen {
				return nil, fmt.Errorf("cred shorter than credlen %d", credLen)
			}
			value, rest = after[:credLen], after[credLen:]
			if len(rest) > 0 {
				if rest[0] != '\n' {
					return nil, fmt.Errorf("cred longer than credlen %d", credLen)
				}
				rest = rest[1:]
			}
		} else {
			value, rest, _ = bytes.Cut(after, []byte("\n"))
		}

		k := string(key)
		if k == FieldCredLen {
			n, err := strconv.Atoi(string(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid credlen %q", value)
			}
			credLen = n
		}
		ev.Keys = append(ev.Keys, k)
		ev.Fields[k] = value
	}
	return ev, nil
}

// Package protocol implements the line oriented text protocol spoken with
// helper processes: event payloads written to the helper's stdin, and the
// single decision line a helper may print in reply.
//
// Values are written as raw bytes and are not escaped. A credential that
// contains a newline will desynchronize a receiver that splits on lines;
// receivers should use credlen to read the bind credential.
package protocol

import (
	"bufio"
	"fmt"
	"io"

	"github.com/codysoyland/ldaphooks/pkg/hook"
)

const (
	// KindBind is the first line of a bind notification
	KindBind = "BINDSUCCESS"
	// KindPasswd is the first line of a password modify event
	KindPasswd = "PASSWD"
)

// Field names, in the order they are written.
const (
	FieldMsgID        = "msgid"
	FieldDN           = "dn"
	FieldMethod       = "method"
	FieldCredLen      = "credlen"
	FieldCred         = "cred"
	FieldOldCred      = "oldCred"
	FieldNewCred      = "newCred"
	FieldUserPassword = "userPassword"
)

// WriteBind writes a bind notification to w.
func WriteBind(w io.Writer, req *hook.BindRequest) error {
	bw := bufio.NewWriter(w)
	writeLine(bw, KindBind)
	writeField(bw, FieldMsgID, fmt.Sprint(req.MsgID))
	writeField(bw, FieldDN, req.DN)
	writeField(bw, FieldMethod, fmt.Sprint(int(req.Method)))
	writeField(bw, FieldCredLen, fmt.Sprint(len(req.Credential)))
	writeField(bw, FieldCred, req.Credential)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write bind event: %w", err)
	}
	return nil
}

// WritePasswd writes a password modify event to w. The userPassword line
// is only written when stored is non-nil; an empty, non-nil value is
// written as an empty field.
func WritePasswd(w io.Writer, req *hook.PasswdRequest, stored []byte) error {
	bw := bufio.NewWriter(w)
	writeLine(bw, KindPasswd)
	writeField(bw, FieldMsgID, fmt.Sprint(req.MsgID))
	writeField(bw, FieldDN, req.DN)
	writeField(bw, FieldOldCred, req.OldCredential)
	writeField(bw, FieldNewCred, req.NewCredential)
	if stored != nil {
		writeField(bw, FieldUserPassword, stored)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write passwd event: %w", err)
	}
	return nil
}

// WriteDecision writes a helper's reply. Only Bypass produces output;
// silence is how a helper says continue.
func WriteDecision(w io.Writer, d hook.Decision) error {
	if d != hook.Bypass {
		return nil
	}
	_, err := io.WriteString(w, "OK\n")
	return err
}

// bufio.Writer keeps the first error, so callers only check Flush.
func writeLine(bw *bufio.Writer, s string) {
	bw.WriteString(s)
	bw.WriteByte('\n')
}

func writeField[V string | []byte](bw *bufio.Writer, key string, value V) {
	bw.WriteString(key)
	bw.WriteString(": ")
	bw.Write([]byte(value))
	bw.WriteByte('\n')
}

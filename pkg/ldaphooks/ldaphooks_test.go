package ldaphooks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codysoyland/ldaphooks/pkg/hook"
	"github.com/codysoyland/ldaphooks/pkg/interceptor"
)

// testEntry is a directory entry held by testHost
type testEntry struct {
	password []byte
	releases int
}

func (e *testEntry) Attribute(name string) ([]byte, bool) {
	if name != interceptor.AttrUserPassword || e.password == nil {
		return nil, false
	}
	return e.password, true
}

func (e *testEntry) Release() {
	e.releases++
}

// testHost is a minimal directory pipeline: it verifies simple binds
// against stored passwords and applies password changes itself unless a
// handler bypasses it.
type testHost struct {
	entries       map[string]*testEntry
	bindHandlers  []hook.BindHandler
	passwdHandler hook.PasswdHandler
	passwdUpdates int
	msgID         int64
}

func newTestHost() *testHost {
	return &testHost{entries: make(map[string]*testEntry)}
}

func (h *testHost) HandleBind(fn hook.BindHandler) {
	h.bindHandlers = append(h.bindHandlers, fn)
}

func (h *testHost) HandlePasswd(fn hook.PasswdHandler) {
	h.passwdHandler = fn
}

func (h *testHost) FetchEntry(_ context.Context, dn string) (hook.Entry, error) {
	e, ok := h.entries[dn]
	if !ok {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	return e, nil
}

func (h *testHost) bind(ctx context.Context, dn string, password []byte) error {
	h.msgID++
	req := &hook.BindRequest{MsgID: h.msgID, DN: dn, Method: hook.AuthSimple, Credential: password}
	responses := &hook.Responses{}
	for _, fn := range h.bindHandlers {
		fn(ctx, req, responses)
	}

	reply := &hook.Reply{Code: ldap.LDAPResultSuccess}
	e, ok := h.entries[dn]
	if !ok || !bytes.Equal(e.password, password) {
		reply.Fail(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}
	responses.Finalize(ctx, reply)
	return reply.Err
}

func (h *testHost) passwd(ctx context.Context, dn string, oldPW, newPW []byte) error {
	h.msgID++
	req := &hook.PasswdRequest{MsgID: h.msgID, DN: dn, OldCredential: oldPW, NewCredential: newPW}
	if h.passwdHandler != nil {
		decision, err := h.passwdHandler(ctx, req)
		switch decision {
		case hook.Error:
			return err
		case hook.Bypass:
			return nil
		}
	}

	e, ok := h.entries[dn]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	h.passwdUpdates++
	e.password = newPW
	return nil
}

// createTestScript writes an executable bash helper into a temp dir.
func createTestScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/usr/bin/env bash\n"+content), 0755))
	return path
}

const aliceDN = "uid=alice,ou=people,dc=example,dc=com"

func setup(t *testing.T, opts ...Option) (*testHost, *Overlay) {
	t.Helper()
	host := newTestHost()
	host.entries[aliceDN] = &testEntry{password: []byte("old-secret")}

	overlay, err := New(append([]Option{WithEntryStore(host)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { overlay.Close() })

	overlay.Register(host)
	return host, overlay
}

func TestNewDefaults(t *testing.T) {
	overlay, err := New()
	require.NoError(t, err)
	defer overlay.Close()

	assert.False(t, overlay.State().BindEnabled())
	assert.False(t, overlay.State().PasswdEnabled())
}

func TestNewOptionError(t *testing.T) {
	_, err := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply option")
}

func TestWithConfigFile(t *testing.T) {
	bindScript := createTestScript(t, "exit 0\n")
	passwdScript := createTestScript(t, "exit 0\n")
	cfgPath := filepath.Join(t.TempDir(), "ldaphooks.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"bind_script_path: "+bindScript+"\npasswd_script_path: "+passwdScript+"\n"), 0644))

	overlay, err := New(WithConfigFile(cfgPath), WithPasswdScript(""))
	require.NoError(t, err)
	defer overlay.Close()

	assert.Equal(t, bindScript, overlay.State().BindScriptPath)
	assert.False(t, overlay.State().PasswdEnabled(), "later options override the file")
}

func TestDisabledHooksLeaveRequestsAlone(t *testing.T) {
	host, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, host.bind(ctx, aliceDN, []byte("old-secret")))
	err := host.bind(ctx, aliceDN, []byte("wrong"))
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials))

	require.NoError(t, host.passwd(ctx, aliceDN, []byte("old-secret"), []byte("new-secret")))
	assert.Equal(t, 1, host.passwdUpdates)
	assert.Equal(t, 0, host.entries[aliceDN].releases, "no entry lookup when disabled")
}

func TestBindHelperIgnoringInput(t *testing.T) {
	host, _ := setup(t, WithBindScript(createTestScript(t, "exit 0\n")))

	assert.NoError(t, host.bind(context.Background(), aliceDN, []byte("old-secret")))
}

func TestBindHelperReceivesEvent(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "bind.txt")
	host, _ := setup(t, WithBindScript(createTestScript(t, `cat > "`+capture+`"
`)))

	require.NoError(t, host.bind(context.Background(), aliceDN, []byte("old-secret")))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "BINDSUCCESS\nmsgid: 1\ndn: "+aliceDN+"\nmethod: 128\ncredlen: 10\ncred: old-secret\n", string(data))
}

func TestFailedBindNotReported(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "bind.txt")
	host, _ := setup(t, WithBindScript(createTestScript(t, `cat > "`+capture+`"
`)))

	err := host.bind(context.Background(), aliceDN, []byte("wrong"))
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials))

	_, statErr := os.Stat(capture)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBindSpawnFailure(t *testing.T) {
	host, _ := setup(t, WithBindScript(filepath.Join(t.TempDir(), "missing")))

	err := host.bind(context.Background(), aliceDN, []byte("old-secret"))
	require.Error(t, err)
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultOther))
}

func TestPasswdHelperBypass(t *testing.T) {
	host, _ := setup(t, WithPasswdScript(createTestScript(t, "cat >/dev/null\necho OK\n")))

	require.NoError(t, host.passwd(context.Background(), aliceDN, []byte("old-secret"), []byte("new-secret")))
	assert.Equal(t, 0, host.passwdUpdates, "host logic must not run after a bypass")
	assert.Equal(t, []byte("old-secret"), host.entries[aliceDN].password)
	assert.Equal(t, 1, host.entries[aliceDN].releases)
}

func TestPasswdHelperSilent(t *testing.T) {
	host, _ := setup(t, WithPasswdScript(createTestScript(t, "exit 0\n")))

	require.NoError(t, host.passwd(context.Background(), aliceDN, []byte("old-secret"), []byte("new-secret")))
	assert.Equal(t, 1, host.passwdUpdates)
	assert.Equal(t, []byte("new-secret"), host.entries[aliceDN].password)
}

func TestPasswdHelperSeesStoredCredential(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "passwd.txt")
	host, _ := setup(t, WithPasswdScript(createTestScript(t, `cat > "`+capture+`"
`)))

	require.NoError(t, host.passwd(context.Background(), aliceDN, []byte("old-secret"), []byte("new-secret")))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, "PASSWD\nmsgid: 1\ndn: "+aliceDN+"\noldCred: old-secret\nnewCred: new-secret\nuserPassword: old-secret\n", string(data))
}

func TestPasswdHelperUnknownEntry(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "passwd.txt")
	host, _ := setup(t, WithPasswdScript(createTestScript(t, `cat > "`+capture+`"
`)))

	err := host.passwd(context.Background(), "uid=nobody,dc=example,dc=com", nil, []byte("pw"))
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject), "host logic still runs and reports the missing entry")

	data, readErr := os.ReadFile(capture)
	require.NoError(t, readErr)
	assert.NotContains(t, string(data), "userPassword")
}

func TestPasswdSpawnFailure(t *testing.T) {
	host, _ := setup(t, WithPasswdScript(filepath.Join(t.TempDir(), "missing")))

	err := host.passwd(context.Background(), aliceDN, []byte("old-secret"), []byte("new-secret"))
	require.Error(t, err)
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultOther))
	assert.Equal(t, 0, host.passwdUpdates)
}

func TestFireWithoutHost(t *testing.T) {
	overlay, err := New(
		WithBindScript(createTestScript(t, "cat >/dev/null\n")),
		WithPasswdScript(createTestScript(t, "cat >/dev/null\nprintf 'ok\\n'\n")),
	)
	require.NoError(t, err)
	defer overlay.Close()

	ctx := context.Background()
	assert.NoError(t, overlay.FireBind(ctx, &hook.BindRequest{DN: aliceDN, Credential: []byte("x")}))

	d, err := overlay.FirePasswd(ctx, &hook.PasswdRequest{DN: aliceDN})
	require.NoError(t, err)
	assert.Equal(t, hook.Bypass, d)
}

func TestCloseReleasesState(t *testing.T) {
	overlay, err := New(WithBindScript("/bin/true"), WithPasswdScript("/bin/true"))
	require.NoError(t, err)

	state := overlay.State()
	require.NoError(t, overlay.Close())
	assert.True(t, state.Released())
	assert.False(t, state.BindEnabled())
	assert.False(t, state.PasswdEnabled())

	require.NoError(t, overlay.Close())
}

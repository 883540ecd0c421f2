package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-ldap/ldap/v3"
	"github.com/spf13/cobra"

	"github.com/codysoyland/ldaphooks/pkg/config"
	"github.com/codysoyland/ldaphooks/pkg/hook"
	"github.com/codysoyland/ldaphooks/pkg/interceptor"
	"github.com/codysoyland/ldaphooks/pkg/ldaphooks"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "ldaphooks",
		Short: "Directory bind and password modify helper hooks",
		Long: `ldaphooks hands directory bind and password modify events to external
helper programs over a line oriented protocol on the helper's stdin.

Use "check" to validate a configuration file and "fire" to send a single
event to a helper by hand. Credentials are always read from stdin.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	root.AddCommand(newCheckCmd())
	root.AddCommand(newFireCmd(&verbose))
	return root
}

func newCheckCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bind helper:   %s\n", describePath(cfg.BindScriptPath))
			fmt.Fprintf(out, "passwd helper: %s\n", describePath(cfg.PasswdScriptPath))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to the YAML configuration file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func describePath(p string) string {
	if p == "" {
		return "disabled"
	}
	return p
}

func newFireCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire",
		Short: "Send one event to a helper",
	}
	cmd.AddCommand(newFireBindCmd(verbose))
	cmd.AddCommand(newFirePasswdCmd(verbose))
	return cmd
}

func newFireBindCmd(verbose *bool) *cobra.Command {
	var (
		script string
		dn     string
		msgID  int64
		method int
	)

	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Notify a bind helper of a successful bind",
		Long: `Send a BINDSUCCESS event to the helper. The credential is read from
stdin; a single trailing newline is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateDN(dn); err != nil {
				return err
			}
			cred, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read credential: %w", err)
			}

			overlay, err := ldaphooks.New(ldaphooks.WithBindScript(script), ldaphooks.WithVerbose(*verbose))
			if err != nil {
				return err
			}
			defer overlay.Close()

			return overlay.FireBind(context.Background(), &hook.BindRequest{
				MsgID:      msgID,
				DN:         dn,
				Method:     hook.AuthMethod(method),
				Credential: bytes.TrimSuffix(cred, []byte("\n")),
			})
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "Path to the bind helper")
	cmd.Flags().StringVar(&dn, "dn", "", "DN of the bound entry")
	cmd.Flags().Int64Var(&msgID, "msgid", 1, "Message ID to report")
	cmd.Flags().IntVar(&method, "method", int(hook.AuthSimple), "Authentication method code")
	_ = cmd.MarkFlagRequired("script")
	_ = cmd.MarkFlagRequired("dn")
	return cmd
}

func newFirePasswdCmd(verbose *bool) *cobra.Command {
	var (
		script     string
		dn         string
		msgID      int64
		storedFile string
	)

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Ask a password helper about a password change",
		Long: `Send a PASSWD event to the helper and print its decision. The old and
new credentials are read from the first two lines of stdin. With
--stored-file, the file's content is sent as the entry's userPassword.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateDN(dn); err != nil {
				return err
			}
			oldCred, newCred, err := readCredentials(cmd.InOrStdin())
			if err != nil {
				return err
			}

			opts := []ldaphooks.Option{
				ldaphooks.WithPasswdScript(script),
				ldaphooks.WithVerbose(*verbose),
			}
			if storedFile != "" {
				stored, err := os.ReadFile(storedFile)
				if err != nil {
					return fmt.Errorf("failed to read stored credential: %w", err)
				}
				opts = append(opts, ldaphooks.WithEntryStore(&staticStore{
					dn:       dn,
					password: bytes.TrimSuffix(stored, []byte("\n")),
				}))
			}

			overlay, err := ldaphooks.New(opts...)
			if err != nil {
				return err
			}
			defer overlay.Close()

			decision, err := overlay.FirePasswd(context.Background(), &hook.PasswdRequest{
				MsgID:         msgID,
				DN:            dn,
				OldCredential: oldCred,
				NewCredential: newCred,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "Path to the password helper")
	cmd.Flags().StringVar(&dn, "dn", "", "DN of the entry whose password changes")
	cmd.Flags().Int64Var(&msgID, "msgid", 1, "Message ID to report")
	cmd.Flags().StringVar(&storedFile, "stored-file", "", "File holding the entry's stored userPassword")
	_ = cmd.MarkFlagRequired("script")
	_ = cmd.MarkFlagRequired("dn")
	return cmd
}

func validateDN(dn string) error {
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN %q: %w", dn, err)
	}
	return nil
}

// readCredentials reads the old and new credentials, one per line.
// A missing second line is an error; an empty line is an empty credential.
func readCredentials(r io.Reader) ([]byte, []byte, error) {
	br := bufio.NewReader(r)
	oldCred, err := br.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read old credential: %w", err)
	}
	newCred, err := br.ReadBytes('\n')
	if err != nil && (!errors.Is(err, io.EOF) || len(newCred) == 0) {
		return nil, nil, fmt.Errorf("failed to read new credential: %w", err)
	}
	return bytes.TrimSuffix(oldCred, []byte("\n")), bytes.TrimSuffix(newCred, []byte("\n")), nil
}

// staticStore serves a single entry with a fixed userPassword.
type staticStore struct {
	dn       string
	password []byte
}

func (s *staticStore) FetchEntry(_ context.Context, dn string) (hook.Entry, error) {
	if dn != s.dn {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no entry %q", dn))
	}
	return staticEntry{password: s.password}, nil
}

type staticEntry struct {
	password []byte
}

func (e staticEntry) Attribute(name string) ([]byte, bool) {
	if name != interceptor.AttrUserPassword {
		return nil, false
	}
	return e.password, true
}

func (staticEntry) Release() {}

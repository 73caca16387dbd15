// cmd/libractl/members.go
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func memberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Register and check library members",
	}
	cmd.AddCommand(registerCmd(a), loginCmd(a), canCmd(a))
	return cmd
}

func registerCmd(a *app) *cobra.Command {
	var email, name, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a member; the password is read from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
			m, err := a.members().Register(cmd.Context(), email, name, password, role)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), m, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s as %s (%s)\n", m.Email, m.Role, m.ID)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "member email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "guest", "librarian, scholar or guest")
	cmd.MarkFlagRequired("email")
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check a member's credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
			m, err := a.members().Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), m, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "welcome back, %s (%s)\n", m.Name, m.Role)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "member email")
	cmd.MarkFlagRequired("email")
	return cmd
}

func canCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "can USER CAPABILITY",
		Short: "Check whether a user holds a capability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.members().HasCapability(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

// readPassword masks input on a terminal and reads one line otherwise.
func readPassword(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

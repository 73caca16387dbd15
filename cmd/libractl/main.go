// cmd/libractl/main.go
package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"libranexus-lending/internal/clients"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type app struct {
	serverURL     string
	membershipURL string
	asJSON        bool
	verbose       bool
}

func (a *app) lending() *clients.LendingClient {
	return clients.NewLendingClient(a.serverURL, &http.Client{Timeout: 10 * time.Second})
}

func (a *app) members() *clients.MembershipClient {
	return clients.NewMembershipClient(a.membershipURL, &http.Client{Timeout: 10 * time.Second})
}

func (a *app) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (a *app) print(w io.Writer, v any, text func()) error {
	if !a.asJSON {
		text()
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "libractl",
		Short:         "Operate the LibraNexus lending desk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.serverURL, "server", envOr("LIBRANEXUS_URL", "http://localhost:8082"), "circulation service URL")
	root.PersistentFlags().StringVar(&a.membershipURL, "membership", envOr("LIBRANEXUS_MEMBERSHIP_URL", "http://localhost:8083"), "membership service URL")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		importCmd(a),
		listCmd(a),
		borrowCmd(a),
		returnCmd(a),
		flagCmd(a),
		restoreCmd(a),
		undoCmd(a),
		queueCmd(a),
		overdueCmd(a),
		historyCmd(a),
		memberCmd(a),
		chaosCmd(a),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "libractl: %v\n", err)
		os.Exit(1)
	}
}

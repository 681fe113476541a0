// Command msig inspects multisig accounts and votes on proposals across
// configured networks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"multisig-console/internal/failure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := closeApp(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if cl, ok := failure.DisplayOf(err); ok && cl.Message != "" {
			fmt.Fprintln(os.Stderr, cl.Message)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The returned func releases whatever the
// executed command opened.
func newRootCmd() (*cobra.Command, func() error) {
	var (
		flags globalFlags
		a     *app
	)

	root := &cobra.Command{
		Use:           "msig",
		Short:         "Multisig console",
		Long:          "Inspect multisig accounts and proposals, vote, and submit signed transactions on any configured network.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.output != "text" && flags.output != "json" {
				return fmt.Errorf("invalid --output %q (use text|json)", flags.output)
			}
			var err error
			a, err = newApp(cmd.Context(), flags)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.chain, "chain", "", "Chain id from the chains file (overrides DEFAULT_CHAIN)")
	pf.StringVar(&flags.chainsFile, "chains-file", "", "YAML file describing networks (overrides CHAINS_FILE)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides LOG_LEVEL)")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	pf.StringVarP(&flags.output, "output", "o", "text", "Output format: text|json")

	getApp := func() *app { return a }
	out := func() printer { return printer{w: os.Stdout, json: flags.output == "json"} }

	root.AddCommand(
		newChainsCmd(getApp, out),
		newMultisigCmd(getApp, out),
		newProposalCmd(getApp, out),
		newTxCmd(getApp, out),
		newCheckpointCmd(getApp, out),
		newSubmitCmd(getApp, out),
		newConfirmCmd(getApp, out),
		newRecoverCmd(getApp, out),
		newPendingCmd(getApp, out),
		newJournalCmd(getApp, out),
	)
	return root, func() error {
		if a == nil {
			return nil
		}
		return a.close()
	}
}

// printer renders command results as text or JSON.
type printer struct {
	w    io.Writer
	json bool
}

// print writes v as indented JSON, or calls text in text mode.
func (p printer) print(v any, text func(w io.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(p.w)
	return nil
}

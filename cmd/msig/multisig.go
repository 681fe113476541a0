package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"multisig-console/internal/multisig"
	"multisig-console/internal/solana"
)

type appFunc func() *app
type printerFunc func() printer

func parseKey(name, s string) (solana.PublicKey, error) {
	pk, err := solana.ParsePublicKey(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: %w", name, err)
	}
	return pk, nil
}

func parseIndex(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transaction index %q: %w", s, err)
	}
	return n, nil
}

func newChainsCmd(getApp appFunc, out printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List configured networks",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a := getApp()
			chains := a.chains.List()
			return out().print(chains, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tRPC\tPROGRAM")
				for _, c := range chains {
					marker := ""
					if c.ID == a.target.ID {
						marker = " *"
					}
					fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", c.ID, marker, c.DisplayName(), c.RPCEndpoint, c.ProgramID)
				}
				tw.Flush()
			})
		},
	}
}

type multisigView struct {
	*multisig.Multisig
	Vault        solana.PublicKey `json:"vault"`
	VaultBalance string           `json:"vault_balance"`
}

func newMultisigCmd(getApp appFunc, out printerFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multisig",
		Short: "Read multisig accounts",
	}

	var (
		vaultIndex uint8
		noCache    bool
	)
	show := &cobra.Command{
		Use:   "show <address>",
		Short: "Show a multisig with its vault balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			addr, err := parseKey("multisig", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ms, err := a.service.GetMultisig(ctx, a.target, addr, !noCache)
			if err != nil {
				return err
			}
			vault, err := a.service.VaultAddress(a.target, addr, vaultIndex)
			if err != nil {
				return err
			}
			balance, err := a.service.GetVaultBalance(ctx, a.target, addr, vaultIndex)
			if err != nil {
				return err
			}
			view := multisigView{Multisig: ms, Vault: vault, VaultBalance: multisig.FormatLamports(balance)}
			return out().print(view, func(w io.Writer) { printMultisig(w, view) })
		},
	}
	show.Flags().Uint8Var(&vaultIndex, "vault-index", 0, "Vault index")
	show.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the account cache")

	byCreator := &cobra.Command{
		Use:   "by-creator <creator>",
		Short: "List multisigs created by a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			creator, err := parseKey("creator", args[0])
			if err != nil {
				return err
			}
			list, err := a.service.GetMultisigsByCreator(cmd.Context(), a.target, creator)
			if err != nil {
				return err
			}
			return out().print(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ADDRESS\tTHRESHOLD\tMEMBERS\tTX INDEX")
				for _, ms := range list {
					fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%d\n", ms.Address, ms.Threshold, ms.Voters(), len(ms.Members), ms.TransactionIndex)
				}
				tw.Flush()
			})
		},
	}

	cmd.AddCommand(show, byCreator)
	return cmd
}

func printMultisig(w io.Writer, v multisigView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Address\t%s\n", v.Address)
	fmt.Fprintf(tw, "Chain\t%s\n", v.ChainID)
	fmt.Fprintf(tw, "Threshold\t%d of %d voters\n", v.Threshold, v.Voters())
	fmt.Fprintf(tw, "Time lock\t%ds\n", v.TimeLock)
	fmt.Fprintf(tw, "Transaction index\t%d (stale below %d)\n", v.TransactionIndex, v.StaleTransactionIndex)
	fmt.Fprintf(tw, "Vault\t%s\n", v.Vault)
	fmt.Fprintf(tw, "Vault balance\t%s SOL\n", v.VaultBalance)
	for _, m := range v.Members {
		fmt.Fprintf(tw, "Member\t%s %s\n", m.Key, permissions(m))
	}
	tw.Flush()
}

func permissions(m multisig.Member) string {
	out := []byte("---")
	if m.Has(multisig.PermissionInitiate) {
		out[0] = 'i'
	}
	if m.Has(multisig.PermissionVote) {
		out[1] = 'v'
	}
	if m.Has(multisig.PermissionExecute) {
		out[2] = 'x'
	}
	return string(out)
}

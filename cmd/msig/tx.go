package main

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"multisig-console/internal/idhash"
	"multisig-console/internal/solana"
	"multisig-console/internal/storage"
	"multisig-console/internal/txprep"
)

func newTxCmd(getApp appFunc, out printerFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Read transaction records attached to proposals",
	}

	vault := &cobra.Command{
		Use:   "vault <multisig> <index>",
		Short: "Show a vault transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			addr, err := parseKey("multisig", args[0])
			if err != nil {
				return err
			}
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			t, err := a.service.GetVaultTransaction(cmd.Context(), a.target, addr, index, true)
			if err != nil {
				return err
			}
			return out().print(t, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Address\t%s\n", t.Address)
				fmt.Fprintf(tw, "Creator\t%s\n", t.Creator)
				fmt.Fprintf(tw, "Index\t%d\n", t.Index)
				fmt.Fprintf(tw, "Vault index\t%d\n", t.VaultIndex)
				fmt.Fprintf(tw, "Message\t%d bytes\n", len(t.Message))
				tw.Flush()
				fmt.Fprintln(w, hex.EncodeToString(t.Message))
			})
		},
	}

	config := &cobra.Command{
		Use:   "config <multisig> <index>",
		Short: "Show a config transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			addr, err := parseKey("multisig", args[0])
			if err != nil {
				return err
			}
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			t, err := a.service.GetConfigTransaction(cmd.Context(), a.target, addr, index, true)
			if err != nil {
				return err
			}
			return out().print(t, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Address\t%s\n", t.Address)
				fmt.Fprintf(tw, "Creator\t%s\n", t.Creator)
				fmt.Fprintf(tw, "Index\t%d\n", t.Index)
				fmt.Fprintf(tw, "Actions\t%d bytes\n", len(t.Actions))
				tw.Flush()
				fmt.Fprintln(w, hex.EncodeToString(t.Actions))
			})
		},
	}

	cmd.AddCommand(vault, config)
	return cmd
}

type checkpointView struct {
	Chain                string `json:"chain"`
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
	Slot                 uint64 `json:"slot"`
}

func newCheckpointCmd(getApp appFunc, out printerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Show the latest finalized block reference of the chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			cp, err := a.preparer.GetRecentCheckpoint(cmd.Context(), a.target.RPCEndpoint)
			if err != nil {
				return err
			}
			view := checkpointView{
				Chain:                a.target.ID,
				Blockhash:            cp.Blockhash.String(),
				LastValidBlockHeight: cp.LastValidBlockHeight,
				Slot:                 cp.Slot,
			}
			return out().print(view, func(w io.Writer) {
				fmt.Fprintf(w, "%s: blockhash %s valid until height %d (slot %d)\n",
					view.Chain, view.Blockhash, view.LastValidBlockHeight, view.Slot)
			})
		},
	}
}

func newSubmitCmd(getApp appFunc, out printerFunc) *cobra.Command {
	var sf submitFlags
	cmd := &cobra.Command{
		Use:   "submit <base64-transaction>",
		Short: "Submit an already signed transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sf.validate(); err != nil {
				return err
			}
			raw, err := base64.StdEncoding.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode transaction: %w", err)
			}
			a := getApp()
			ctx := cmd.Context()
			if sf.persistID == "" {
				tx, err := solana.DecodeTransaction(raw)
				if err != nil {
					return err
				}
				sf.persistID = idhash.ComputeSubmitID(a.target.ID, tx.FirstSignature().String())
			}
			sig, err := a.preparer.SubmitRaw(ctx, raw, a.target, txprep.ExecuteOptions{
				Send:      sf.sendOptions(),
				PersistID: sf.persistID,
			})
			if err != nil {
				return pendingHint(err, sf.persistID)
			}
			view, err := a.finish(ctx, sig, sf)
			if err != nil {
				return err
			}
			return out().print(view, func(w io.Writer) { printSubmission(w, view) })
		},
	}
	sf.register(cmd)
	return cmd
}

func newConfirmCmd(getApp appFunc, out printerFunc) *cobra.Command {
	var commitment string
	cmd := &cobra.Command{
		Use:   "confirm <signature>",
		Short: "Wait until a transaction reaches a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			ok, err := a.preparer.ConfirmTransaction(cmd.Context(), args[0], a.target, solana.Commitment(commitment))
			if err != nil {
				return err
			}
			view := submissionView{Signature: args[0], Status: commitment}
			if !ok {
				view.Status = "failed"
			}
			return out().print(view, func(w io.Writer) { printSubmission(w, view) })
		},
	}
	cmd.Flags().StringVar(&commitment, "commitment", string(solana.CommitmentConfirmed), "Commitment to wait for: processed|confirmed|finalized")
	return cmd
}

func newRecoverCmd(getApp appFunc, out printerFunc) *cobra.Command {
	var sf submitFlags
	cmd := &cobra.Command{
		Use:   "recover <persist-id>",
		Short: "Finish the submission of a persisted signed payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sf.validate(); err != nil {
				return err
			}
			a := getApp()
			res, err := a.preparer.Recover(cmd.Context(), args[0], a.target, sf.sendOptions(), solana.Commitment(sf.commitment))
			if err != nil {
				return err
			}
			view := submissionView{Signature: res.Signature, PersistID: args[0], Status: "failed"}
			switch {
			case res.Confirmed:
				view.Status = sf.commitment
			case res.Expired:
				view.Status = "expired"
			}
			if parsed, err := solana.ParseSignature(res.Signature); err == nil {
				view.Explorer = a.target.ExplorerTxURL(parsed)
			}
			return out().print(view, func(w io.Writer) {
				if res.Resent {
					fmt.Fprintln(w, "Payload was resent.")
				}
				if res.Expired {
					fmt.Fprintln(w, "Payload expired unseen and was dropped.")
				}
				printSubmission(w, view)
			})
		},
	}
	cmd.Flags().BoolVar(&sf.skipPreflight, "skip-preflight", false, "Skip the node's preflight simulation")
	cmd.Flags().StringVar(&sf.commitment, "commitment", string(solana.CommitmentConfirmed), "Commitment to wait for: processed|confirmed|finalized")
	return cmd
}

func newPendingCmd(getApp appFunc, out printerFunc) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List signed payloads awaiting a final outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			chainID := a.target.ID
			if all {
				chainID = ""
			}
			list, err := a.pending.List(cmd.Context(), chainID)
			if err != nil {
				return err
			}
			return out().print(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCHAIN\tENCODING\tLAST VALID HEIGHT\tCREATED")
				for _, p := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.ChainID, p.Encoding, p.LastValidBlockHeight, p.CreatedAt.Format(time.RFC3339))
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List payloads of every chain")

	drop := &cobra.Command{
		Use:   "drop <persist-id>",
		Short: "Delete a persisted payload that will never land",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if err := a.pending.Delete(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no pending payload %q: %w", args[0], err)
				}
				return err
			}
			view := droppedView{ID: args[0], Dropped: true}
			return out().print(view, func(w io.Writer) {
				fmt.Fprintf(w, "Dropped pending payload %s.\n", view.ID)
			})
		},
	}
	cmd.AddCommand(drop)
	return cmd
}

type droppedView struct {
	ID      string `json:"id"`
	Dropped bool   `json:"dropped"`
}

func newJournalCmd(getApp appFunc, out printerFunc) *cobra.Command {
	var (
		limit     int
		signature string
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded submissions and their outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			var (
				entries []*storage.Submission
				err     error
			)
			if signature != "" {
				entries, err = a.journal.ListBySignature(cmd.Context(), signature)
			} else {
				entries, err = a.journal.ListByChain(cmd.Context(), a.target.ID, limit)
			}
			if err != nil {
				return err
			}
			return out().print(entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tOUTCOME\tSIGNATURE\tERROR")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.RecordedAt.Format(time.RFC3339), e.Outcome, e.Signature, e.Error)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&signature, "signature", "", "Show the history of one signature")
	return cmd
}

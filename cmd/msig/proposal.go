package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"multisig-console/internal/failure"
	"multisig-console/internal/idhash"
	"multisig-console/internal/multisig"
	"multisig-console/internal/solana"
	"multisig-console/internal/storage"
	"multisig-console/internal/txprep"
)

type proposalListView struct {
	Proposals []*multisig.Proposal `json:"proposals"`
	Skipped   int                  `json:"skipped"`
}

func newProposalCmd(getApp appFunc, out printerFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Read and vote on proposals",
	}

	list := &cobra.Command{
		Use:   "list <multisig>",
		Short: "List proposals of a multisig",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			addr, err := parseKey("multisig", args[0])
			if err != nil {
				return err
			}
			page, err := a.service.ListProposals(cmd.Context(), a.target, addr)
			if err != nil {
				return err
			}
			view := proposalListView{Proposals: page.Proposals, Skipped: page.Skipped}
			return out().print(view, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "INDEX\tSTATUS\tAPPROVALS\tREJECTIONS\tADDRESS")
				for _, p := range page.Proposals {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", p.TransactionIndex, p.Status, len(p.Approvals), len(p.Rejections), p.Address)
				}
				tw.Flush()
				if page.Skipped > 0 {
					fmt.Fprintf(w, "%d proposal account(s) could not be decoded\n", page.Skipped)
				}
			})
		},
	}

	var noCache bool
	show := &cobra.Command{
		Use:   "show <multisig> <index>",
		Short: "Show one proposal",
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
			p, err := a.service.GetProposal(cmd.Context(), a.target, addr, index, !noCache)
			if err != nil {
				return err
			}
			return out().print(p, func(w io.Writer) { printProposal(w, p) })
		},
	}
	show.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the account cache")

	cmd.AddCommand(list, show,
		newVoteCmd(getApp, out, "approve", multisig.SquadsInstructions{}.ProposalApprove),
		newVoteCmd(getApp, out, "reject", multisig.SquadsInstructions{}.ProposalReject),
		newVoteCmd(getApp, out, "cancel", multisig.SquadsInstructions{}.ProposalCancel),
	)
	return cmd
}

func printProposal(w io.Writer, p *multisig.Proposal) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Address\t%s\n", p.Address)
	fmt.Fprintf(tw, "Multisig\t%s\n", p.MultisigAddress)
	fmt.Fprintf(tw, "Index\t%d\n", p.TransactionIndex)
	fmt.Fprintf(tw, "Status\t%s\n", p.Status)
	if p.StatusTimestamp != 0 {
		fmt.Fprintf(tw, "Since\t%s\n", time.Unix(p.StatusTimestamp, 0).UTC().Format(time.RFC3339))
	}
	for _, k := range p.Approvals {
		fmt.Fprintf(tw, "Approved\t%s\n", k)
	}
	for _, k := range p.Rejections {
		fmt.Fprintf(tw, "Rejected\t%s\n", k)
	}
	for _, k := range p.Cancellations {
		fmt.Fprintf(tw, "Cancelled\t%s\n", k)
	}
	tw.Flush()
}

type buildFunc func(program solana.PublicKey, args multisig.VoteArgs) (solana.Instruction, error)

type submitFlags struct {
	persistID     string
	skipPreflight bool
	noWait        bool
	commitment    string
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.persistID, "persist-id", "", "Id under which the signed payload is kept until final (generated when empty)")
	cmd.Flags().BoolVar(&f.skipPreflight, "skip-preflight", false, "Skip the node's preflight simulation")
	cmd.Flags().BoolVar(&f.noWait, "no-wait", false, "Return after submission without waiting for confirmation")
	cmd.Flags().StringVar(&f.commitment, "commitment", string(solana.CommitmentConfirmed), "Commitment to wait for: processed|confirmed|finalized")
}

func (f *submitFlags) sendOptions() solana.SendOptions {
	return solana.SendOptions{
		SkipPreflight:       f.skipPreflight,
		PreflightCommitment: solana.Commitment(f.commitment),
	}
}

func (f *submitFlags) validate() error {
	if solana.Commitment(f.commitment).Rank() == 0 {
		return fmt.Errorf("invalid --commitment %q", f.commitment)
	}
	return nil
}

type submissionView struct {
	Signature string `json:"signature"`
	PersistID string `json:"persist_id,omitempty"`
	Explorer  string `json:"explorer,omitempty"`
	Status    string `json:"status"`
}

func newVoteCmd(getApp appFunc, out printerFunc, action string, build buildFunc) *cobra.Command {
	var (
		sf        submitFlags
		memo      string
		versioned bool
	)
	cmd := &cobra.Command{
		Use:   action + " <multisig> <index>",
		Short: fmt.Sprintf("Sign and submit a proposal %s vote", action),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sf.validate(); err != nil {
				return err
			}
			a := getApp()
			ctx := cmd.Context()
			addr, err := parseKey("multisig", args[0])
			if err != nil {
				return err
			}
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}

			wallet, err := a.wallet()
			if err != nil {
				return err
			}
			member, err := a.dispatcher.Address(ctx, wallet)
			if err != nil {
				return err
			}
			ms, err := a.service.GetMultisig(ctx, a.target, addr, true)
			if err != nil {
				return err
			}
			if !ms.IsMember(member) {
				return fmt.Errorf("%s is not a member of multisig %s", member, addr)
			}

			ix, err := build(a.target.ProgramID, multisig.VoteArgs{
				Multisig:         addr,
				Member:           member,
				TransactionIndex: index,
				Memo:             memo,
			})
			if err != nil {
				return err
			}
			var tx solana.Transaction = solana.NewLegacyTransaction(&member, ix)
			if versioned {
				if tx, err = toVersioned(tx.(*solana.LegacyTransaction)); err != nil {
					return err
				}
			}

			if sf.persistID == "" {
				sf.persistID = idhash.ComputeVoteID(a.target.ID, a.target.ProgramID.String(), addr.String(), index, action, member.String())
			}
			sig, err := a.preparer.ExecuteTransaction(ctx, tx, a.target, wallet, txprep.ExecuteOptions{
				Send:      sf.sendOptions(),
				PersistID: sf.persistID,
			})
			if err != nil {
				return pendingHint(err, sf.persistID)
			}
			view, err := a.finish(ctx, sig, sf)
			a.invalidate(addr)
			if err != nil {
				return err
			}
			return out().print(view, func(w io.Writer) { printSubmission(w, view) })
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&memo, "memo", "", "Memo stored with the vote")
	cmd.Flags().BoolVar(&versioned, "versioned", false, "Build a v0 transaction instead of a legacy one")
	return cmd
}

// toVersioned compiles tx into an equivalent v0 transaction without lookup
// tables.
func toVersioned(tx *solana.LegacyTransaction) (*solana.VersionedTransaction, error) {
	msg, err := tx.CompileMessage()
	if err != nil {
		return nil, err
	}
	return solana.NewVersionedTransaction(solana.MessageV0{
		Header:            msg.Header,
		StaticAccountKeys: msg.AccountKeys,
		RecentBlockhash:   msg.RecentBlockhash,
		Instructions:      msg.Instructions,
	}), nil
}

// finish waits for sig unless told not to and releases the persisted payload
// once the outcome is final.
func (a *app) finish(ctx context.Context, sig string, sf submitFlags) (submissionView, error) {
	view := submissionView{Signature: sig, PersistID: sf.persistID, Status: "submitted"}
	if parsed, err := solana.ParseSignature(sig); err == nil {
		view.Explorer = a.target.ExplorerTxURL(parsed)
	}
	if sf.noWait {
		return view, nil
	}

	ok, err := a.preparer.ConfirmTransaction(ctx, sig, a.target, solana.Commitment(sf.commitment))
	if err != nil {
		if failure.Is(err, failure.KindTimeout) {
			a.logger.Warn("payload kept for recovery", zap.String("persist_id", sf.persistID))
		}
		return view, err
	}
	if ok {
		view.Status = sf.commitment
	} else {
		view.Status = "failed"
	}
	if err := a.preparer.Release(ctx, sf.persistID); err != nil {
		a.logger.Warn("release signed payload", zap.Error(err))
	}
	if !ok {
		return view, failure.New(failure.KindSubmissionRejected, "msig", "transaction "+sig+" failed on "+a.target.ID)
	}
	return view, nil
}

// invalidate drops every cached snapshot of multisig addr and its proposals.
func (a *app) invalidate(addr solana.PublicKey) {
	n := a.service.InvalidateCache(addr)
	a.logger.Debug("cache invalidated after submission", zap.Stringer("multisig", addr), zap.Int("entries", n))
}

func printSubmission(w io.Writer, v submissionView) {
	fmt.Fprintf(w, "Signature: %s\n", v.Signature)
	fmt.Fprintf(w, "Status:    %s\n", v.Status)
	if v.PersistID != "" {
		fmt.Fprintf(w, "Payload:   %s\n", v.PersistID)
	}
	if v.Explorer != "" {
		fmt.Fprintf(w, "Explorer:  %s\n", v.Explorer)
	}
}

// pendingHint points at recover when an earlier attempt left its payload
// behind.
func pendingHint(err error, persistID string) error {
	if errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("%w: an earlier attempt is still pending, run `msig recover %s` or `msig pending drop %s`", err, persistID, persistID)
	}
	return err
}

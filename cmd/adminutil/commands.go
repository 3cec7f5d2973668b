package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/auth"
	"github.com/sudo-init-do/agenthub/internal/ledger"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/payment"
	"github.com/sudo-init-do/agenthub/internal/registry"
)

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: withEnv(open, func(ctx context.Context, e *env, _ []string) error {
			if err := e.st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "schema up to date")
			return nil
		}),
	}
}

func newSeedCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <services.json>",
		Short: "Register every service draft in a JSON array file",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(open, func(ctx context.Context, e *env, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return eris.Wrapf(err, "read %s", args[0])
			}
			var drafts []marketplace.ServiceDraft
			if err := json.Unmarshal(raw, &drafts); err != nil {
				return eris.Wrapf(err, "decode %s", args[0])
			}

			reg := registry.New(e.st, e.log)
			for i, d := range drafts {
				svc, err := reg.Register(ctx, d)
				if err != nil {
					return eris.Wrapf(err, "draft %d (%s)", i, d.Name)
				}
				fmt.Fprintf(e.out, "registered %s %s\n", svc.ID, svc.Name)
			}
			return nil
		}),
	}
}

func newDelistCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delist <service-id>",
		Short: "Soft-delete a service listing",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(open, func(ctx context.Context, e *env, args []string) error {
			reg := registry.New(e.st, e.log)
			if err := reg.Load(ctx); err != nil {
				return err
			}
			if err := reg.Delist(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "service %s delisted\n", args[0])
			return nil
		}),
	}
}

func newAuditCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <payment-signature>",
		Short: "List every provider attempt paid by a payment signature",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(open, func(ctx context.Context, e *env, args []string) error {
			if _, err := payment.ValidateSignature(args[0]); err != nil {
				return err
			}
			txs, err := ledger.NewWriter(e.st, e.log).ByPayment(ctx, args[0])
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				return apperr.NotFound("no transactions for payment signature %s", args[0])
			}
			return e.printJSON(txs)
		}),
	}
}

func newDisputesCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disputes",
		Short: "Inspect and resolve undelivered-payment disputes",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List disputes",
		Args:  cobra.NoArgs,
		RunE: withEnv(open, func(ctx context.Context, e *env, _ []string) error {
			items, err := ledger.NewDisputes(e.st, e.log).List(ctx, status)
			if err != nil {
				return err
			}
			if items == nil {
				items = []marketplace.Dispute{}
			}
			return e.printJSON(items)
		}),
	}
	list.Flags().StringVar(&status, "status", marketplace.DisputeOpen, "open, resolved, or empty for all")

	var resolution, notes string
	resolve := &cobra.Command{
		Use:   "resolve <dispute-id>",
		Short: "Close a dispute as refund, release or none",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(open, func(ctx context.Context, e *env, args []string) error {
			d, err := ledger.NewDisputes(e.st, e.log).Resolve(ctx, args[0], resolution, notes)
			if err != nil {
				return err
			}
			return e.printJSON(d)
		}),
	}
	resolve.Flags().StringVar(&resolution, "resolution", "", "refund | release | none")
	resolve.Flags().StringVar(&notes, "notes", "", "operator notes")
	_ = resolve.MarkFlagRequired("resolution")

	cmd.AddCommand(list, resolve)
	return cmd
}

func newTokenCmd(open opener) *cobra.Command {
	var (
		wallet string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a wallet",
		Args:  cobra.NoArgs,
		RunE: withEnv(open, func(_ context.Context, e *env, _ []string) error {
			if role != auth.RoleBuyer && role != auth.RoleAdmin {
				return apperr.Validation("role must be %s or %s", auth.RoleBuyer, auth.RoleAdmin)
			}
			if err := payment.ValidateAddress(wallet); err != nil && role == auth.RoleBuyer {
				return err
			}
			tok, err := auth.Issue(e.cfg.Auth.JWTSecret, wallet, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, tok)
			return nil
		}),
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address carried by the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleBuyer, "buyer | admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

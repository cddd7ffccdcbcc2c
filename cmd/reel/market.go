package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reelmarket/internal/domain"
	"reelmarket/internal/engine"
)

func editorCmd() *cobra.Command {
	ed := &cobra.Command{
		Use:   "editor",
		Short: "Manage editors",
		Long:  "Editors are the freelancers. Their completed, cancelled and late counters drive loyalty tier and reputation.",
	}
	ed.AddCommand(editorListCmd())
	ed.AddCommand(editorShowCmd())
	ed.AddCommand(editorSaveCmd())
	ed.AddCommand(editorTouchCmd())
	ed.AddCommand(editorReputationCmd())
	return ed
}

func editorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List editors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				editors := e.ListEditors(ctx)
				if viper.GetBool("json") {
					return printJSON(editors)
				}
				tw := newTable("ID", "Name", "Completed", "Cancelled", "Late", "Loyalty", "Reputation")
				for _, ed := range editors {
					rep := e.CalculateReputation(ed)
					tw.AppendRow(table.Row{ed.ID, ed.Name, ed.CompletedDeals, ed.CancelledDeals, ed.LateDeliveries, e.LoyaltyLevel(ed), fmt.Sprintf("%s (%d)", rep.Badge, rep.Points)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func editorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <editor-id>",
		Short: "Show an editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ed := e.GetEditor(ctx, args[0])
				return printJSONOrTable(map[string]any{
					"editor":     ed,
					"loyalty":    e.LoyaltyLevel(ed),
					"reputation": e.CalculateReputation(ed),
				})
			})
		},
	}
}

func editorSaveCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "save <editor-id>",
		Short: "Create or rename an editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.SaveEditor(ctx, args[0], engine.EditorPatch{Name: optionalString(name)}))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func editorTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <editor-id>",
		Short: "Record editor activity now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.UpdateEditorActivity(ctx, args[0]))
			})
		},
	}
}

func editorReputationCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "reputation <editor-id>",
		Short: "Show reputation, or record a deal outcome with --action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var act domain.ReputationAction
			if action != "" {
				a, err := domain.ParseReputationAction(action)
				if err != nil {
					return err
				}
				act = a
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if act == "" {
					return printJSONOrTable(e.CalculateReputation(e.GetEditor(ctx, args[0])))
				}
				return printJSONOrTable(e.UpdateReputation(ctx, args[0], act))
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "deal_completed, deal_cancelled or late_delivery")
	return cmd
}

func commissionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "commission",
		Short: "Platform commission",
	}
	var amount float64
	quote := &cobra.Command{
		Use:   "quote <editor-id>",
		Short: "Quote the commission on an amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.CalculateCommission(ctx, args[0], amount))
			})
		},
	}
	quote.Flags().Float64Var(&amount, "amount", 0, "deal amount")
	_ = quote.MarkFlagRequired("amount")
	c.AddCommand(quote)
	return c
}

func dealCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "deal",
		Short: "Manage deals and escrow",
		Long:  "A deal opens once the client pays an advance of at least 20% of the budget. Cancelling before work starts refunds the advance minus the admin fee.",
	}
	d.AddCommand(dealListCmd())
	d.AddCommand(dealShowCmd())
	d.AddCommand(dealSaveCmd())
	d.AddCommand(dealStartCmd())
	d.AddCommand(dealAdvanceCmd())
	d.AddCommand(dealCancelCmd())
	return d
}

func dealListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deals := e.ListDeals(ctx)
				if viper.GetBool("json") {
					return printJSON(deals)
				}
				tw := newTable("ID", "Status", "Budget", "Advance", "Admin fee", "Work started", "Refund")
				for _, d := range deals {
					advance := "-"
					if d.AdvancePaid {
						advance = fmt.Sprintf("%.2f", d.AdvanceAmount)
					}
					tw.AppendRow(table.Row{d.ID, d.Status, fmt.Sprintf("%.2f", d.Budget), advance, fmt.Sprintf("%.2f", d.AdminFee), d.WorkStarted, fmt.Sprintf("%.2f", d.RefundAmount)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func dealShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <deal-id>",
		Short: "Show a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.GetDeal(ctx, args[0]))
			})
		},
	}
}

func dealSaveCmd() *cobra.Command {
	var budget float64
	var status string
	cmd := &cobra.Command{
		Use:   "save <deal-id>",
		Short: "Create or update a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.DealPatch
			if cmd.Flags().Changed("budget") {
				if budget < 0 {
					return fmt.Errorf("--budget must not be negative")
				}
				patch.Budget = &budget
			}
			patch.Status = optionalString(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.SaveDeal(ctx, args[0], patch))
			})
		},
	}
	cmd.Flags().Float64Var(&budget, "budget", 0, "deal budget")
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress, cancelled or completed")
	return cmd
}

func dealStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <deal-id>",
		Short: "Mark work as started (ends refund eligibility)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.StartWork(ctx, args[0]))
			})
		},
	}
}

func dealAdvanceCmd() *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "advance <deal-id>",
		Short: "Pay the advance for a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.ProcessAdvancePayment(ctx, args[0], amount)
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Success {
					fmt.Printf("advance declined: at least %.2f required\n", res.RequiredAmount)
					return nil
				}
				fmt.Printf("advance accepted (admin fee %.2f)\n", res.AdminFee)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "advance amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func dealCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <deal-id>",
		Short: "Cancel a deal and refund the advance if eligible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.CancelDeal(ctx, args[0])
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Refunded {
					fmt.Println("not refundable: no advance paid or work already started")
					return nil
				}
				fmt.Printf("refunded %.2f (admin fee %.2f kept)\n", res.Amount, res.AdminFee)
				return nil
			})
		},
	}
}

func trackerCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "tracker",
		Short: "Project trackers",
		Long:  "One tracker per deal: free-form status, a 0-100 progress figure and milestones.",
	}
	t.AddCommand(trackerCreateCmd())
	t.AddCommand(trackerShowCmd())
	t.AddCommand(trackerListCmd())
	t.AddCommand(trackerProgressCmd())
	t.AddCommand(milestoneCmd())
	return t
}

func trackerCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <deal-id>",
		Short: "Create a tracker (replaces an existing one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.CreateTracker(ctx, args[0]))
			})
		},
	}
}

func trackerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <deal-id>",
		Short: "Show a tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, ok := e.GetTracker(ctx, args[0])
				if !ok {
					return fmt.Errorf("no tracker for deal %s", args[0])
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("deal %s: %s, %d%% (updated %s)\n", t.DealID, t.Status, t.Progress, t.LastUpdated.Format(time.RFC3339))
				tw := newTable("Milestone", "Title", "Date", "Completed")
				for _, m := range t.Milestones {
					done := ""
					if m.CompletedDate != nil {
						done = m.CompletedDate.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{m.ID, m.Title, m.Date.Format(time.RFC3339), done})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func trackerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trackers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				trackers := e.ListTrackers(ctx)
				if viper.GetBool("json") {
					return printJSON(trackers)
				}
				tw := newTable("Deal", "Status", "Progress", "Milestones", "Updated")
				for _, t := range trackers {
					tw.AppendRow(table.Row{t.DealID, t.Status, t.Progress, len(t.Milestones), t.LastUpdated.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func trackerProgressCmd() *cobra.Command {
	var status string
	var progress int
	cmd := &cobra.Command{
		Use:   "progress <deal-id>",
		Short: "Set tracker status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if progress < 0 || progress > 100 {
				return fmt.Errorf("--progress must be between 0 and 100")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.UpdateProgress(ctx, args[0], status, progress) {
					return fmt.Errorf("no tracker for deal %s", args[0])
				}
				t, _ := e.GetTracker(ctx, args[0])
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "free-form status")
	cmd.Flags().IntVar(&progress, "progress", 0, "percent complete")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "milestone",
		Short: "Tracker milestones",
	}
	var title string
	add := &cobra.Command{
		Use:   "add <deal-id>",
		Short: "Add a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ms, ok := e.AddMilestone(ctx, args[0], domain.Milestone{Title: title})
				if !ok {
					return fmt.Errorf("no tracker for deal %s", args[0])
				}
				return printJSONOrTable(ms)
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "milestone title")
	_ = add.MarkFlagRequired("title")

	complete := &cobra.Command{
		Use:   "complete <deal-id> <milestone-id>",
		Short: "Mark a milestone completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.CompleteMilestone(ctx, args[0], args[1]) {
					return fmt.Errorf("no milestone %s on deal %s", args[1], args[0])
				}
				t, _ := e.GetTracker(ctx, args[0])
				ms, _ := t.Milestone(args[1])
				return printJSONOrTable(ms)
			})
		},
	}
	m.AddCommand(add)
	m.AddCommand(complete)
	return m
}

func checkoutCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "checkout",
		Short: "Quote and pay a deal advance",
	}
	var quoteAmount float64
	quote := &cobra.Command{
		Use:   "quote",
		Short: "Quote the platform fee on an amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.QuoteCheckout(quoteAmount))
			})
		},
	}
	quote.Flags().Float64Var(&quoteAmount, "amount", 0, "amount")
	_ = quote.MarkFlagRequired("amount")

	var method string
	var amount float64
	pay := &cobra.Command{
		Use:   "pay <deal-id>",
		Short: "Pay the advance with a payment method and open the tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				receipt := e.CompleteCheckout(ctx, domain.Checkout{DealID: args[0], Method: method, Amount: amount})
				if viper.GetBool("json") {
					return printJSON(receipt)
				}
				if !receipt.Accepted {
					msg := "payment declined: " + receipt.Reason
					if receipt.Reason == domain.DeclineInsufficientAdvance {
						msg += fmt.Sprintf(" (at least %.2f required)", receipt.Advance.RequiredAmount)
					}
					fmt.Println(msg)
					return nil
				}
				fmt.Printf("paid %.2f via %s (platform fee %.2f, admin fee %.2f); tracker opened for %s\n",
					receipt.Quote.Total, receipt.Method, receipt.Quote.PlatformFee, receipt.Advance.AdminFee, args[0])
				return nil
			})
		},
	}
	pay.Flags().StringVar(&method, "method", "", "payment method")
	pay.Flags().Float64Var(&amount, "amount", 0, "advance amount")
	_ = pay.MarkFlagRequired("amount")

	c.AddCommand(quote)
	c.AddCommand(pay)
	return c
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"CTPayments/internal/app"
	"CTPayments/internal/config"
	"CTPayments/internal/logging"
	"CTPayments/internal/models"

	"github.com/spf13/cobra"
)

func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg, logging.New(cfg.Log))
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-number>",
		Short: "Print an order as stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			order, err := a.Orders.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order)
			return nil
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <order-number>",
		Short: "Ask the provider for the current status and apply it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.Poll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outcome: %s\n", res.Outcome)
			printOrder(cmd.OutOrStdout(), res.Order)
			return nil
		},
	}
}

func confirmCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "confirm <order-number>",
		Short: "Settle an offline order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := models.ParsePaymentStatus(status)
			if err != nil {
				return err
			}
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.Confirm(cmd.Context(), args[0], st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outcome: %s\n", res.Outcome)
			printOrder(cmd.OutOrStdout(), res.Order)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "paid", "paid or failed")
	return cmd
}

func noteCmd() *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "note <order-number> <text>...",
		Short: "Append an operator note to an order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Orders.AddNote(cmd.Context(), args[0], strings.Join(args[1:], " "), notify)
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "send the note to the customer")
	return cmd
}

func sweepCmd() *cobra.Command {
	var poll bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one stale-order sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Worker.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reminders sent: %d\n", n)
			if poll {
				settled, err := a.Worker.PollOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "orders settled by polling: %d\n", settled)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "also poll providers for pending orders")
	return cmd
}

func printOrder(w io.Writer, o *models.Order) {
	if o == nil {
		return
	}
	fmt.Fprintf(w, "order:     %s\n", o.OrderNumber)
	fmt.Fprintf(w, "customer:  %s <%s> %s\n", o.Customer.Name, o.Customer.Email, o.Customer.Phone)
	fmt.Fprintf(w, "total:     %s %s\n", o.Total.StringFixed(2), o.Currency)
	fmt.Fprintf(w, "method:    %s\n", o.PaymentMethod)
	fmt.Fprintf(w, "status:    %s\n", o.PaymentStatus)
	if ref := o.Reference(); ref != "" {
		fmt.Fprintf(w, "reference: %s\n", ref)
	}
	fmt.Fprintf(w, "reminders: %d\n", o.ReminderCount)
	if o.Notes != "" {
		fmt.Fprintf(w, "notes:\n%s\n", o.Notes)
	}
}

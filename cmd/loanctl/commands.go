package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/config"
	"github.com/mcclellann/loanengine/pkg/ledger"
	"github.com/mcclellann/loanengine/pkg/logger"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// openStore loads config and opens the SQLite store it points at.
func openStore(cmd *cobra.Command) (*config.Config, *store.SQLiteStore, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DatabasePath = db
	}
	s, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the amortization schedule for a principal, rate and term",
		RunE: func(cmd *cobra.Command, args []string) error {
			principalStr, _ := cmd.Flags().GetString("principal")
			rateStr, _ := cmd.Flags().GetString("rate")
			term, _ := cmd.Flags().GetInt("term")
			sharia, _ := cmd.Flags().GetBool("sharia")
			startStr, _ := cmd.Flags().GetString("start")
			asJSON, _ := cmd.Flags().GetBool("json")

			principal, err := decimal.NewFromString(principalStr)
			if err != nil {
				return fmt.Errorf("invalid principal %q: %w", principalStr, err)
			}
			rate, err := decimal.NewFromString(rateStr)
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", rateStr, err)
			}
			start := time.Now().UTC()
			if startStr != "" {
				if start, err = time.Parse("2006-01-02", startStr); err != nil {
					return fmt.Errorf("invalid start date %q: %w", startStr, err)
				}
			}

			schedule, err := amortization.Generate(amortization.Terms{
				Principal:       principal,
				AnnualRate:      rate,
				TermMonths:      term,
				ShariaCompliant: sharia,
				StartDate:       start,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(schedule)
			}

			fmt.Fprintf(out, "Payment: %s\n\n", schedule.Payment.StringFixed(2))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "#\tDue\tOpening\tInterest\tPrincipal\tPayment\tClosing\t")
			for _, l := range schedule.Lines {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
					l.Number, l.DueDate.Format("2006-01-02"),
					l.OpeningBalance.StringFixed(2), l.Interest.StringFixed(2), l.Principal.StringFixed(2),
					l.Payment.StringFixed(2), l.ClosingBalance.StringFixed(2))
			}
			p, i, total := schedule.Totals()
			fmt.Fprintf(tw, "\t\t\t%s\t%s\t%s\t\t\n", i.StringFixed(2), p.StringFixed(2), total.StringFixed(2))
			return tw.Flush()
		},
	}

	cmd.Flags().String("principal", "", "Loan principal")
	cmd.Flags().String("rate", "0", "Annual interest or profit rate in percent")
	cmd.Flags().Int("term", 12, "Term in months")
	cmd.Flags().Bool("sharia", false, "Use flat-profit Islamic installments")
	cmd.Flags().String("start", "", "Schedule start date (YYYY-MM-DD), default today")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	cmd.MarkFlagRequired("principal")

	return cmd
}

func reevaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reevaluate",
		Short: "Re-run risk classification for every active loan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			l := ledger.NewLedger(s, ledger.WithLogger(log), ledger.WithRiskWorkers(cfg.Risk.Workers))

			summary, err := l.ReevaluateRisk(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluated=%d changed=%d defaulted=%d failed=%d\n",
				summary.Evaluated, summary.Changed, summary.Defaulted, summary.Failed)
			return nil
		},
	}
}

func productsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Manage the loan product catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Upsert every product in a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := config.LoadProducts(args[0])
			if err != nil {
				return err
			}
			_, s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			for i := range products {
				if err := s.UpsertProduct(cmd.Context(), &products[i]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d products\n", len(products))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured products",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			products, err := s.ListProducts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tAMOUNT\tTERM\tRATE\tSHARIA")
			for _, p := range products {
				fmt.Fprintf(tw, "%s\t%s\t%s-%s\t%d-%d\t%s%%\t%t\n", p.Code, p.Name,
					p.MinimumAmount, p.MaximumAmount, p.MinimumTermMonths, p.MaximumTermMonths, p.InterestRate, p.ShariaCompliant)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func customersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Manage the customer directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [id] [name]",
		Short: "Register a customer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			c := &models.Customer{ID: args[0], Name: args[1], CreatedAt: time.Now().UTC()}
			if err := s.CreateCustomer(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added customer %s\n", c.ID)
			return nil
		},
	})

	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/writer"
	"github.com/lamim/classforge/pkg/models"
)

var (
	historyLimit int

	quoteVideo      bool
	quoteComplexity int
	quoteLesson     bool
	quoteHandout    bool
	quoteQuiz       bool
)

func newCreditsCmd() *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and top up the credit balance",
		Long:  "Inspect and top up the credit balance of the configured identity",
	}

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the current balance",
		Args:  cobra.NoArgs,
		RunE:  showBalance,
	}

	topUpCmd := &cobra.Command{
		Use:   "topup <amount>",
		Short: "Add credits to the balance",
		Args:  cobra.ExactArgs(1),
		RunE:  topUp,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent ledger transactions",
		Args:  cobra.NoArgs,
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of transactions to show")

	creditsCmd.AddCommand(balanceCmd, topUpCmd, historyCmd)
	return creditsCmd
}

func newCostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show the credit cost schedule",
		Long: `Show the credit cost tables. With --complexity, --video or any
material flag, also itemise the cost of that generation.`,
		Args: cobra.NoArgs,
		RunE: showCosts,
	}
	cmd.Flags().BoolVar(&quoteVideo, "video", false, "Quote a video-based run")
	cmd.Flags().IntVarP(&quoteComplexity, "complexity", "c", 0, "Complexity level to quote (1-3)")
	cmd.Flags().BoolVar(&quoteLesson, "lesson-plan", false, "Include a lesson plan")
	cmd.Flags().BoolVar(&quoteHandout, "handout", false, "Include a handout")
	cmd.Flags().BoolVar(&quoteQuiz, "quiz", false, "Include a quiz")
	return cmd
}

// withAccount opens the configured ledger for a one-shot command
func withAccount(fn func(ctx context.Context, account *credits.Account) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewConsoleLogger(os.Stderr, logLevel())

	account, ledger, err := openAccount(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Failed to close credit ledger", "error", err)
		}
	}()
	if !account.Enabled() {
		logger.Warn("Credit gate is disabled; balances are tracked but not enforced")
	}
	if cfg.Credits.LedgerPath == "" {
		logger.Warn("No ledger_path configured; balances are not persisted")
	}
	return fn(context.Background(), account)
}

func showBalance(cmd *cobra.Command, _ []string) error {
	return withAccount(func(ctx context.Context, account *credits.Account) error {
		balance, err := account.Balance(ctx)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", account.Identity(), balance)
		return nil
	})
}

func topUp(cmd *cobra.Command, args []string) error {
	amount, err := strconv.Atoi(args[0])
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer, got %q", args[0])
	}
	return withAccount(func(ctx context.Context, account *credits.Account) error {
		balance, err := account.TopUp(ctx, amount)
		if err != nil {
			return fmt.Errorf("failed to top up: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits (+%d)\n", account.Identity(), balance, amount)
		return nil
	})
}

func showHistory(cmd *cobra.Command, _ []string) error {
	return withAccount(func(ctx context.Context, account *credits.Account) error {
		txs, err := account.History(ctx, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if len(txs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No transactions recorded.")
			return nil
		}

		rows := make([][]string, 0, len(txs))
		for _, tx := range txs {
			rows = append(rows, []string{
				tx.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%+d", tx.Amount),
				strconv.Itoa(tx.BalanceAfter),
				truncate(tx.Reason, 60),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"Time", "Amount", "Balance", "Reason"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
		))
		return nil
	})
}

func showCosts(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	schedule := credits.DefaultSchedule().WithEditCost(cfg.Credits.EditCost)
	out := cmd.OutOrStdout()

	tiers := []credits.Tier{credits.TierLow, credits.TierMedium, credits.TierHigh}
	rows := make([][]string, 0, len(tiers))
	for _, tier := range tiers {
		material := "-"
		if amount, ok := schedule.Material[tier]; ok {
			material = strconv.Itoa(amount)
		}
		rows = append(rows, []string{string(tier), strconv.Itoa(schedule.MainRun[tier]), material})
	}
	fmt.Fprintln(out, renderTable([]string{"Tier", "Main run", "Per material"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
	fmt.Fprintf(out, "Edit or refine: %d credits\n", schedule.Edit)

	flags := cmd.Flags()
	if !flags.Changed("complexity") && !quoteVideo && !quoteLesson && !quoteHandout && !quoteQuiz {
		return nil
	}

	complexity := quoteComplexity
	if complexity == 0 {
		complexity = models.ComplexityStandard
	}
	op := credits.Operation{
		Kind:       credits.OpGenerate,
		HasVideo:   quoteVideo,
		Complexity: complexity,
		Materials:  models.MaterialRequest{LessonPlan: quoteLesson, Handout: quoteHandout, Quiz: quoteQuiz},
	}

	items := schedule.Breakdown(op)
	quote := make([][]string, 0, len(items)+1)
	for _, item := range items {
		quote = append(quote, []string{item.Label, string(item.Tier), strconv.Itoa(item.Amount)})
	}
	quote = append(quote, []string{"total", "", strconv.Itoa(schedule.Cost(op))})
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Item", "Tier", "Credits"}, quote, []columnAlignment{alignLeft, alignLeft, alignRight}))
	return nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/focusquest/focusquest/internal/app/reward"
)

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", "local", "User to show")
	historyCmd.Flags().StringVar(&statusUser, "user", "local", "User to show")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries")
	rootCmd.AddCommand(statusCmd, historyCmd)
}

var (
	statusUser   string
	historyLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a user's level, missions, and achievements",
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's recent XP and coin awards",
	RunE:  runHistory,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openLocal()
	if err != nil {
		return err
	}
	defer d.Close()

	p, err := d.Engine.Profile(context.Background(), statusUser)
	if err != nil {
		return err
	}
	return printProfile(os.Stdout, p)
}

func runHistory(cmd *cobra.Command, args []string) error {
	d, err := openLocal()
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := d.Engine.Ledger().History(context.Background(), statusUser, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No rewards yet. Run 'focusquest serve' and get to work.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tCURRENCY\tAMOUNT\tREASON\tREF\tBALANCE")
	for _, e := range entries {
		ref := e.RefType
		if e.RefID != "" {
			ref += ":" + e.RefID
		}
		fmt.Fprintf(w, "%s\t%s\t%+d\t%s\t%s\t%d\n",
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.Currency,
			e.Amount,
			e.Reason,
			ref,
			e.BalanceAfter,
		)
	}
	return w.Flush()
}

func printProfile(out io.Writer, p reward.Profile) error {
	fmt.Fprintf(out, "Level %d  %s  %d/%d XP\n", p.Level, xpBar(p.CurrentXP, p.RequiredXP), p.CurrentXP, p.RequiredXP)
	fmt.Fprintf(out, "Lifetime %d XP · %d coins · streak %d day(s) (best %d)\n",
		p.LifetimeXP, p.Coins, p.Streak.CurrentDays, p.Streak.LongestDays)
	if p.Boost != nil {
		fmt.Fprintf(out, "Boost %s x%.1f until %s\n", p.Boost.ItemID, p.Boost.Multiplier, p.Boost.ExpiresAt.Format("15:04"))
	}
	if p.Event != nil {
		fmt.Fprintf(out, "Event %s: %d/%d (%s)\n", p.Event.Kind, p.Event.Progress, p.Event.Target, p.Event.Phase)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nMISSION\tPROGRESS\tREWARD")
	for _, m := range p.Missions {
		state := fmt.Sprintf("%d/%d (%d%%)", m.Current, m.Target, m.Percentage)
		if m.Complete {
			state = "done"
		}
		fmt.Fprintf(w, "%s\t%s\t%d XP, %d coins\n", m.Title, state, m.RewardXP, m.RewardCoins)
	}

	fmt.Fprintln(w, "\nACHIEVEMENT\tUNLOCKED")
	for _, a := range p.Achievements {
		when := "-"
		if a.UnlockedAt != nil {
			when = a.UnlockedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s %s\t%s\n", a.Icon, a.Name, when)
	}

	if len(p.Inventory) > 0 {
		fmt.Fprintln(w, "\nITEM\tQUANTITY")
		for _, it := range p.Inventory {
			fmt.Fprintf(w, "%s\t%d\n", it.ItemID, it.Quantity)
		}
	}
	return w.Flush()
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/planboard/core/ptu"
)

var (
	ptuDuration int
	ptuZone     string
	ptuAt       string
)

var ptuCmd = &cobra.Command{
	Use:   "ptu [date]",
	Short: "Print the PTU count of a day, or the index of a local time with --at",
	Args:  cobra.ExactArgs(1),
	RunE:  printPTU,
}

func init() {
	ptuCmd.Flags().IntVar(&ptuDuration, "duration", 15, "PTU duration in minutes")
	ptuCmd.Flags().StringVar(&ptuZone, "tz", "Europe/Amsterdam", "time zone")
	ptuCmd.Flags().StringVar(&ptuAt, "at", "", "local time of day (HH:MM)")
	rootCmd.AddCommand(ptuCmd)
}

func printPTU(cmd *cobra.Command, args []string) error {
	loc, err := time.LoadLocation(ptuZone)
	if err != nil {
		return err
	}
	clock, err := ptu.NewClock(ptuDuration, loc)
	if err != nil {
		return err
	}
	day, err := time.ParseInLocation(time.DateOnly, args[0], loc)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	out := cmd.OutOrStdout()
	if ptuAt == "" {
		_, err = fmt.Fprintf(out, "%s: %d PTUs of %d minutes\n", args[0], clock.Count(day), ptuDuration)
		return err
	}
	at, err := time.ParseInLocation(time.DateOnly+" 15:04", args[0]+" "+ptuAt, loc)
	if err != nil {
		return fmt.Errorf("at: %w", err)
	}
	idx := clock.Index(at)
	_, err = fmt.Fprintf(out, "%s %s: PTU %d (%s - %s)\n", args[0], ptuAt, idx,
		clock.Start(day, idx).Format("15:04 MST"), clock.End(day, idx).Format("15:04 MST"))
	return err
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/planboard/infra/store/sqlite"
	"github.com/kilianp07/planboard/pkg/export"
)

var (
	exportMonth  string
	exportFormat string
	exportDB     string
	exportOut    string
	exportZone   string
)

var createFile = func(path string) (io.WriteCloser, error) { return os.Create(path) }

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the settlements of a month",
	RunE:  exportSettlements,
}

func init() {
	exportCmd.Flags().StringVar(&exportMonth, "month", "", "month to export (YYYY-MM)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or json")
	exportCmd.Flags().StringVar(&exportDB, "db", "planboard.db", "sqlite planboard store")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (stdout when empty)")
	exportCmd.Flags().StringVar(&exportZone, "tz", "Europe/Amsterdam", "time zone of the planboard periods")
	_ = exportCmd.MarkFlagRequired("month")
	rootCmd.AddCommand(exportCmd)
}

func exportSettlements(cmd *cobra.Command, args []string) error {
	loc, err := time.LoadLocation(exportZone)
	if err != nil {
		return err
	}
	month, err := time.ParseInLocation("2006-01", exportMonth, loc)
	if err != nil {
		return fmt.Errorf("month: %w", err)
	}
	write := export.WriteCSV
	switch exportFormat {
	case "csv":
	case "json":
		write = export.WriteJSON
	default:
		return fmt.Errorf("unknown format %q", exportFormat)
	}
	store, err := sqlite.Open(exportDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	sets, err := export.Month(context.Background(), store, month)
	if err != nil {
		return err
	}
	if exportOut == "" {
		return write(cmd.OutOrStdout(), sets)
	}
	f, err := createFile(exportOut)
	if err != nil {
		return err
	}
	if err := write(f, sets); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Package export writes settlements in JSON or CSV for reporting.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
)

// Month loads the settlements whose period falls in the month starting at
// month.
func Month(ctx context.Context, r planboard.Reader, month time.Time) ([]model.FlexOrderSettlement, error) {
	y, m, _ := month.Date()
	from := time.Date(y, m, 1, 0, 0, 0, 0, month.Location())
	sets, err := r.FindSettlements(ctx, planboard.SettlementQuery{From: from, To: from.AddDate(0, 1, 0)})
	if err != nil {
		return nil, fmt.Errorf("load settlements: %w", err)
	}
	return sets, nil
}

// WriteJSON writes the settlements to w as one JSON array.
func WriteJSON(w io.Writer, sets []model.FlexOrderSettlement) error {
	if sets == nil {
		sets = []model.FlexOrderSettlement{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sets)
}

var csvHeader = []string{
	"settlement_sequence", "order_sequence", "participant", "period", "group", "disposition",
	"ptu", "ordered", "delivered", "power_deficiency", "price", "penalty", "line_disposition",
}

// WriteCSV writes one row per settlement line.
func WriteCSV(w io.Writer, sets []model.FlexOrderSettlement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range sets {
		for _, l := range s.Lines {
			rec := []string{
				strconv.FormatInt(s.SettlementSequence, 10),
				strconv.FormatInt(s.OrderSequence, 10),
				s.Participant,
				s.Period.Format(time.DateOnly),
				s.Group,
				string(s.Disposition),
				strconv.Itoa(l.Index),
				strconv.FormatInt(l.Ordered, 10),
				strconv.FormatInt(l.Delivered, 10),
				strconv.FormatInt(l.PowerDeficiency, 10),
				l.Price.String(),
				l.Penalty.String(),
				string(l.Disposition),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

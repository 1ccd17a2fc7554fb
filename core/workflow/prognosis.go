package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/status"
	"github.com/kilianp07/planboard/core/step"
)

// prognosisGroups keeps the groups this participant sends prognoses for.
func (c *Coordinator) prognosisGroups(groups []model.ConnectionGroup) []model.ConnectionGroup {
	var out []model.ConnectionGroup
	for _, g := range groups {
		role, err := g.Counterparty(c.cfg.Self.Role)
		if err == nil && (role == model.RoleDSO || role == model.RoleBRP) {
			out = append(out, g)
		}
	}
	return out
}

// CreatePrognosis issues a new prognosis for group on period. An empty group
// fans out one event per active prognosis group.
//
// Slices inside the gate-closure window keep the power of the last prognosis
// sent for them, or zero when there is none.
func (c *Coordinator) CreatePrognosis(ctx context.Context, period time.Time, group string) error {
	period = c.clock.Day(period)
	if group == "" {
		return c.run(ctx, events.WorkflowCreatePrognosis, "", func(tx planboard.Tx, out *outbox) error {
			groups, err := tx.ActiveGroups(ctx, period)
			if err != nil {
				return err
			}
			for _, g := range c.prognosisGroups(groups) {
				out.raise(events.CreatePrognosis{Period: period, Group: g.ID})
			}
			return nil
		})
	}
	return c.run(ctx, events.WorkflowCreatePrognosis, lockKey("prognosis", group), func(tx planboard.Tx, out *outbox) error {
		g, err := tx.FindGroup(ctx, group)
		if err != nil {
			return err
		}
		role, err := g.Counterparty(c.cfg.Self.Role)
		if err != nil {
			return err
		}
		count := c.clock.Count(period)
		res, err := c.steps.Run(ctx, step.CreatePrognosis, step.Params{
			step.Period:      period,
			step.Group:       group,
			step.PTUCount:    count,
			step.PTUDuration: c.clock.Duration(),
		})
		if err != nil {
			return err
		}
		power, err := step.Get[[]int64](res, step.Power)
		if err != nil {
			return err
		}
		if len(power) != count {
			return fmt.Errorf("%w: %s returned %d slices, want %d", model.ErrConfiguration, step.CreatePrognosis, len(power), count)
		}

		previous, err := tx.FindDocuments(ctx, c.dayQuery(model.TypePrognosis, period, group))
		if err != nil {
			return err
		}
		if frozen := c.frozenThrough(period); frozen > 0 {
			last := lastSent(previous)
			kept := last.Power(count)
			for i := 0; i < frozen; i++ {
				power[i] = kept[i]
			}
		}

		for i := range previous {
			p := &previous[i]
			switch p.Status {
			case model.StatusArchived:
				continue
			case model.StatusToBeRecreated:
				err = transition(ctx, tx, out, events.WorkflowCreatePrognosis, p, status.Recreated)
			default:
				err = transition(ctx, tx, out, events.WorkflowCreatePrognosis, p, status.Superseded)
			}
			if err != nil {
				return err
			}
		}

		doc := c.newDocument(model.TypePrognosis, period, group, role, g.Participant)
		doc.PTUs = make([]model.PTU, count)
		for i, p := range power {
			doc.PTUs[i] = model.PTU{Index: i + 1, Power: p}
		}
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return err
		}
		c.log.Debugw("prognosis created", logger.Fields(events.WorkflowCreatePrognosis, group, doc.Sequence))
		out.note(events.DocumentEvent{Workflow: events.WorkflowCreatePrognosis, Type: doc.Type, Status: doc.Status, Group: group})
		out.send(doc)
		return nil
	})
}

// lastSent returns the newest prognosis that was not rejected. The zero
// document yields all-zero power.
func lastSent(docs []model.Document) model.Document {
	var kept []model.Document
	for _, d := range docs {
		if d.Status != model.StatusRejected {
			kept = append(kept, d)
		}
	}
	last, _ := planboard.Latest(kept)
	return last
}

// ReCreatePrognosis restores a current prognosis for every active group on
// period. Prognoses marked TO_BE_RECREATED are archived and each group left
// without a current prognosis gets a CreatePrognosis event.
func (c *Coordinator) ReCreatePrognosis(ctx context.Context, period time.Time) error {
	period = c.clock.Day(period)
	return c.run(ctx, events.WorkflowReCreatePrognosis, lockKey("prognosis", "*"), func(tx planboard.Tx, out *outbox) error {
		docs, err := tx.FindDocuments(ctx, c.dayQuery(model.TypePrognosis, period, ""))
		if err != nil {
			return err
		}
		current := map[string]bool{}
		for i := range docs {
			d := &docs[i]
			switch d.Status {
			case model.StatusArchived:
			case model.StatusToBeRecreated:
				if err := transition(ctx, tx, out, events.WorkflowReCreatePrognosis, d, status.Recreated); err != nil {
					return err
				}
			default:
				current[d.Group] = true
			}
		}
		groups, err := tx.ActiveGroups(ctx, period)
		if err != nil {
			return err
		}
		for _, g := range c.prognosisGroups(groups) {
			if !current[g.ID] {
				c.log.Infof("recreating prognosis for %s on %s", g.ID, period.Format(time.DateOnly))
				out.raise(events.CreatePrognosis{Period: period, Group: g.ID})
			}
		}
		return nil
	})
}

// RequestPrognosisRecreation marks the current prognoses of group as
// TO_BE_RECREATED and raises ReCreatePrognosis.
func (c *Coordinator) RequestPrognosisRecreation(ctx context.Context, period time.Time, group string) error {
	period = c.clock.Day(period)
	return c.run(ctx, events.WorkflowRecreationRequest, lockKey("prognosis", group), func(tx planboard.Tx, out *outbox) error {
		if _, err := tx.FindGroup(ctx, group); err != nil {
			return err
		}
		docs, err := tx.FindDocuments(ctx, c.dayQuery(model.TypePrognosis, period, group,
			model.StatusSent, model.StatusAccepted, model.StatusRejected))
		if err != nil {
			return err
		}
		for i := range docs {
			if err := transition(ctx, tx, out, events.WorkflowRecreationRequest, &docs[i], status.RecreateRequested); err != nil {
				return err
			}
		}
		out.raise(events.ReCreatePrognosis{Period: period})
		return nil
	})
}

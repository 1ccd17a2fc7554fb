package workflow

import (
	"fmt"
	"time"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/scheduler"
)

// TimerEvent builds the event a scheduled job raises when it fires. The
// period is the firing day shifted by the job's day offset.
func (c *Coordinator) TimerEvent(job scheduler.JobConfig, fired time.Time) (events.Event, error) {
	day := c.clock.Day(fired)
	y, m, d := day.Date()
	period := time.Date(y, m, d+job.DayOffset, 0, 0, 0, 0, c.clock.Location())
	switch job.Workflow {
	case events.WorkflowCreatePrognosis:
		return events.CreatePrognosis{Period: period}, nil
	case events.WorkflowReCreatePrognosis:
		return events.ReCreatePrognosis{Period: period}, nil
	case events.WorkflowCreateFlexRequest:
		return events.CreateFlexRequest{Period: period}, nil
	case events.WorkflowPlaceFlexOrders:
		return events.PlaceFlexOrders{Period: period}, nil
	case events.WorkflowInitiateSettlement:
		return events.InitiateSettlement{Month: c.MonthStart(period)}, nil
	case events.WorkflowExpireDocuments:
		return events.ExpireDocuments{}, nil
	}
	return nil, fmt.Errorf("%w: job %s names unknown workflow %q", model.ErrConfiguration, job.Name, job.Workflow)
}

// Schedule registers every job on s. Each firing submits the job's event.
func (c *Coordinator) Schedule(s *scheduler.Scheduler, jobs []scheduler.JobConfig) error {
	for _, job := range jobs {
		at, err := scheduler.ParseTimeOfDay(job.At)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		// reject unknown workflows at startup rather than on first fire
		if _, err := c.TimerEvent(job, c.now()); err != nil {
			return err
		}
		job := job
		if err := s.RegisterDaily(job.Name, at, job.OffsetPTUs, func(fired time.Time) {
			e, err := c.TimerEvent(job, fired)
			if err != nil {
				c.log.Errorf("%v", err)
				return
			}
			c.log.Infof("job %s fired, raising %s", job.Name, e.Workflow())
			c.submit(e)
		}); err != nil {
			return err
		}
	}
	return nil
}

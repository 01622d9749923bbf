package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron runs wall-clock jobs such as the 08:00 daily summary.
type Cron struct {
	cron *cron.Cron
}

// NewCron creates and starts a cron scheduler evaluating expressions in loc.
func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.UTC
	}
	// Standard 5-field parser (min, hour, dom, month, dow) plus "@every 5m" descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	c.Start()
	return &Cron{cron: c}
}

// AddJob schedules task using expr. It returns an error if the expression is invalid.
func (c *Cron) AddJob(name, expr string, task func()) error {
	id, err := c.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}
	slog.Info("Cron.AddJob", "name", name, "expr", expr, "next", c.cron.Entry(id).Next)
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}

package httpserver

import "testing"

func TestCountersIncrement(t *testing.T) {
	var c Counters
	c.IncProcessed()
	c.IncProcessed()
	c.IncSucceeded()
	c.IncFailed()

	if c.JobsProcessed != 2 {
		t.Errorf("JobsProcessed = %d, want 2", c.JobsProcessed)
	}
	if c.JobsSucceeded != 1 {
		t.Errorf("JobsSucceeded = %d, want 1", c.JobsSucceeded)
	}
	if c.JobsFailed != 1 {
		t.Errorf("JobsFailed = %d, want 1", c.JobsFailed)
	}
}

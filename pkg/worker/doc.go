// Package worker drives scheduled runs.
//
// A Worker claims due triggers from a taskqueue.Queue and executes the
// instance each trigger fires for through an api.Engine. Recurring and
// cron triggers are registered again for their next occurrence before the
// run starts; with a Config.Rescheduler that only happens while the
// instance's schedule still produces the trigger. Every run is bounded by
// Config.JobTimeout. The engine records a run that exceeds it as failed,
// at the deadline, even when a handler ignores cancellation.
//
// Runs queued with EnqueueRun use their own hook, so schedule changes do
// not drop them.
//
// Several workers, in one process or many, may share a queue: each trigger
// is claimed by exactly one of them.
//
// Most applications start workers through contentflow.LocalRunner.StartWorkers
// or the serve command rather than constructing them directly.
package worker

// Package api contains the core building blocks used by the contentflow
// engine. It defines the data model shared by every store, the handler
// contract that step implementations satisfy, and the observer hooks the
// engine reports through.
//
// Most users interact with the higher-level contentflow package, which
// re-exports selected types and wires the stores, the engine and the
// scheduler together. The api package is intended for handler authors and
// for code that talks to the stores directly.
//
// # Concepts
//
//   - Template: a reusable, ordered sequence of typed steps.
//   - Instance: a configured, schedulable binding of a Template. Every
//     template step gets a StepBinding on the instance, holding the handler
//     name, settings, static prompt and the step's prompt queue.
//   - Schedule: how an instance is triggered (manual, named interval, cron
//     expression or a one-time timestamp).
//   - Run: one execution attempt of an instance. A run carries a Snapshot
//     of everything needed to execute it and never mutates the instance
//     it was created from.
//   - DataPacket: the single item threaded from step to step during a run.
//
// # Handlers
//
// A Handler executes one step. It receives the packet produced by the
// previous step together with the effective settings and prompt, and
// returns a Result: an item, NoItem, or Skip. Returning an error fails the
// run. Handlers are looked up by step type and handler name through a
// registry populated at startup.
//
// # Observability
//
// The Observer interface receives run and step lifecycle callbacks.
// LoggingObserver writes them through log/slog, BasicMetrics keeps simple
// counters, and NewCompositeObserver fans out to several observers.
package api

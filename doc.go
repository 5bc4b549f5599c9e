// Package contentflow provides an embeddable engine for scheduled content
// pipelines.
//
// A pipeline is described once as a Template: an ordered list of typed steps
// (fetch, ai, publish, update, agent_ping). Instances bind a template to
// concrete handlers, settings and prompts, and carry a schedule. Each
// execution of an instance is a Run that threads a single DataPacket through
// the steps and ends in exactly one terminal status.
//
// # Core Concepts
//
//  1. System
//  2. Engine
//  3. Worker
//  4. Handler
//  5. LocalRunner
//
// # System
//
// System wires the stores, the template, instance and prompt queue
// services, the engine, the scheduler adapter and the worker. NewSystem
// builds one from Options; NewSQLiteBundle and NewRedisBundle choose
// durable backends; Open builds one from configuration.
//
// Stores can be backed by:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (templates, instances, runs, content records and triggers)
//   - Redis (runs and triggers)
//
// # Engine
//
// The Engine snapshots an instance into a pending run and executes it step
// by step. A step whose prompt queue is enabled consumes the head of the
// queue; otherwise the static prompt is used. A handler may return an item,
// no item or a skip; a handler error, panic or timeout fails the run.
//
// # Worker
//
// A Worker claims due triggers from the trigger queue and runs the instance
// they fire for. Recurring triggers are registered again before the run
// starts, so a crash never loses a schedule.
//
// # Handler
//
// Handlers implement a step type. Register them on System.Registry, either
// as the default for a step type or under a name that bindings select:
//
//	sys.Registry.RegisterHandler(contentflow.StepTypeAI, "", contentflow.HandlerFunc(
//	    func(ctx context.Context, req contentflow.StepRequest) (contentflow.Result, error) {
//	        out, err := contentflow.NewPacket("article", map[string]string{"title": req.Prompt})
//	        if err != nil {
//	            return contentflow.Result{}, err
//	        }
//	        return contentflow.Item(out), nil
//	    }))
//
// # LocalRunner
//
// LocalRunner wraps an in-memory System with background workers. It is not
// crash-durable, but it is the most convenient way to try pipelines during
// development.
package contentflow

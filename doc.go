// Package invopipe provides a durable, checkpointed orchestrator for
// multi-stage invoice processing pipelines.
//
// invopipe drives each workflow instance through a sequence of named stages,
// persisting a checkpoint after every transition so that a run can survive a
// crash or an intentional pause for human review. After each stage the router
// decides whether to proceed, retry, escalate, pause, or terminate.
//
// Core components include:
//   - WorkflowState: The durable unit of state for one pipeline run
//   - StageRegistry: An immutable mapping from stage name to stage function
//   - Topology: The static, versioned stage-adjacency table
//   - Router: The pure transition policy evaluated after every stage
//   - Executor: The engine loop driving stages, routing, and checkpoints
//   - Orchestrator: The Start/Resume/GetState entry points with per-workflow
//     single-writer locking
//
// Checkpoints are stored through the store.Store interface; backends for
// memory, SQLite, Postgres, Redis, and NATS JetStream live under store/.
package invopipe

// Package master coordinates one scaling job: it partitions the input graph,
// launches a worker per partition, distributes the partition table and the
// partitions, drives the job to its goal while recovering crashed workers,
// and assembles the scaled graph from the workers' backups.
//
// # Phases
//
// A job moves through a fixed sequence of phases, reported by Phase and by
// the /progress status endpoint:
//
//	partitioning → launching → registering → distributing → running
//	                                                           ↓
//	              done ← assembling ← finalizing ←─────────────┘
//
// Any error moves the job to failed and kills the workers still running.
//
// # Poll loop
//
// The master is a single poll loop. Every wait (registration, walker counts,
// file transfers, completion) drains the inbound queue and dispatches each
// message before checking its condition again, so handlers never race with
// each other. The WorkerTable is only mutated from that loop; status readers
// take snapshots.
//
// # Failure detection
//
// While running and finalizing, every cycle asks the HealthMonitor to check
// the registered workers. A worker fails when its listener refuses a probe or
// when no ALIVE arrived within MaxHeartbeatDelay, MaxFailures times in a row.
// Failed workers are recovered in one synchronous round (see recover); a
// second failure during that round aborts the job with ErrCascadingFailure.
package master

// Package worker implements the worker runtime: it registers with the master,
// receives the partition table and its graph partition, runs the scaling
// method in bounded bursts while servicing its inbound queue, and reports
// progress, backups and completion back to the master.
//
// # States
//
// The runtime is a state machine:
//
//	Initializing → AwaitingMetadata → AwaitingGraph → Running ⇄ Paused
//	                                                     ↓
//	                                  Terminated ← Finalizing
//
// Every state has its own set of accepted messages (see handlers.go).
// TERMINATE is accepted everywhere. Messages that do not decode, or that the
// current state does not accept, are logged and dropped.
//
// # Walkers
//
// Goal-driven methods move walkers between partitions. A walker that steps
// onto a foreign vertex is handed to its owner with RANDOM_WALKER; when the
// owner refuses the connection the walker is dropped, and the master puts it
// back when it redistributes walkers after the recovery.
//
// # Running in process
//
// Launcher runs workers on goroutines of the calling process with the same
// arguments the worker binary takes, which is how tests and the master's
// -in-process mode drive full jobs.
package worker

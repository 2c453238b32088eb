// Package cluster provides the transport shared by the graphscale master and
// its workers: addressing, one-shot message delivery, liveness probes and the
// inbound listener that queues messages for a single-threaded consumer.
//
// # Overview
//
// Every process (the master and each worker) owns exactly one Listener bound
// to an OS-assigned port. Peers learn each other's addresses through the
// protocol itself: workers are told the master's address on the command
// line, announce their own in REGISTER, and learn every other worker's from
// the partition table the master broadcasts.
//
//	                 ┌────────────────┐
//	                 │     Master     │
//	                 │  Listener+Inbox│
//	                 └───────┬────────┘
//	       REGISTER/PROGRESS ▲ │ META_DATA/CONTINUE
//	            BACKUP chunks│ ▼ GRAPH chunks
//	      ┌──────────────────┼──────────────────┐
//	┌─────┴─────┐      ┌─────┴─────┐      ┌─────┴─────┐
//	│ Worker 0  │◄────►│ Worker 1  │◄────►│ Worker 2  │
//	│ Listener  │      │ Listener  │      │ Listener  │
//	└───────────┘      └───────────┘      └───────────┘
//	         RANDOM_WALKER hand-offs between workers
//
// # Delivery
//
// Send opens a TCP connection, writes one encoded message and closes it; the
// receiving Listener reads until EOF, so the connection boundary is the
// message boundary. Messages are capped at MaxMessageSize. A connection that
// carries no data is a liveness probe and is discarded.
//
// Errors are classified for the callers:
//   - a refused connection (ErrConnectionRefused) means the peer is gone and
//     is never retried
//   - resets and broken pipes are transient; Retry and SendWithRetry back off
//     exponentially up to a bounded number of attempts
//   - anything else is returned as is
//
// # Inbox
//
// The Listener pushes payloads onto an unbounded Inbox. The owning loop pops
// them one at a time and never blocks the listener, so a slow consumer cannot
// cause peers' sends to fail. Wait lets the loop sleep until a message arrives
// or its poll interval elapses.
//
// # Concurrency Model
//
//   - Listener.serve runs on its own goroutine and only touches the Inbox
//   - Inbox is safe for many producers and one consumer
//   - Send and Probe are stateless and safe from any goroutine
package cluster

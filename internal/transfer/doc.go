// Package transfer moves arbitrarily long line sequences over a transport
// that only carries single bounded messages.
//
// # Protocol
//
// The sender announces the chunk count (START_SEND_FILE), streams FILE_CHUNK
// messages in index order, closes with END_SEND_FILE and keeps the session
// open until the receiver answers RECEIVED_FILE.
//
//	sender                          receiver
//	  │── START_SEND_FILE(n) ──────────►│
//	  │── FILE_CHUNK(0..n-1) ──────────►│
//	  │◄───────── MISSING_CHUNK(i) ─────│  on a gap
//	  │── FILE_CHUNK(i..n-1) ──────────►│
//	  │── END_SEND_FILE ───────────────►│
//	  │◄───────── RECEIVED_FILE ────────│
//
// A receiver that sees any index other than the one it expects answers
// MISSING_CHUNK with the index it does expect; the sender rewinds to that
// index and streams again from there. That rewind is the only repair
// mechanism: nothing is buffered out of order.
//
// Sessions keeps at most one outgoing and one incoming session per file type
// for a single peer.
package transfer

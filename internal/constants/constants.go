package constants

import "time"

// Default geometry and tuning constants for the core, overridable via
// ztl.Config.
const (
	// SecMCMD is the number of sectors per media command (chunk size).
	SecMCMD = 64

	// SecMCMDMin is the minimum alignment unit, in sectors, for a user
	// write. A ucmd's byte size must be a multiple of
	// NBytes * SecMCMDMin.
	SecMCMDMin = 4

	// IOMaxMCMD bounds the number of child media commands a single user
	// command may fan out into.
	IOMaxMCMD = 256

	// ProStripe is the maximum number of zones a single reservation may be
	// striped across.
	ProStripe = 4

	// ProTypes is the number of provisioning type lanes (distinct
	// round-robin group cursors).
	ProTypes = 2

	// DefaultWriteAppend selects zone-append over sequential write when
	// the device supports it.
	DefaultWriteAppend = true
)

// Polling and shutdown timing. The exact delay is a tuning knob, not a
// correctness requirement.
const (
	// PollBackoff is the sleep between empty polls in Media.Wait and in
	// FileDevice's completion reaping loop; the completion goroutine and
	// the writer block on channels instead. Go's scheduler makes a true
	// busy-poll wasteful, so this defaults to a short but non-zero backoff
	// while remaining well under a millisecond.
	PollBackoff = 50 * time.Microsecond

	// AsyncInitSpinTimeout bounds how long InitAsync waits for the
	// completion goroutine to signal it is running before giving up and
	// returning ASYNCH_TH, rather than spinning unboundedly.
	AsyncInitSpinTimeout = 2 * time.Second

	// ShutdownJoinTimeout bounds how long Media.TermAsync (called by
	// Close) waits for the completion goroutine to exit. The wait for the
	// writer goroutine in Writer.Stop is not bounded.
	ShutdownJoinTimeout = 5 * time.Second
)

// DMA / buffer allocation.
const (
	// DefaultDMAPoolSlots is the default number of preallocated DMA buffer
	// slots per size class.
	DefaultDMAPoolSlots = 256

	// DefaultMempoolSlots is the default number of preallocated mcmd
	// slots per (pool type, sub id).
	DefaultMempoolSlots = 512
)

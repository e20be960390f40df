package transport

import "time"

// Constants from spec.md §4.1, fixed by the wire protocol and not meant to
// be tuned per deployment.
const (
	// MaxInflight bounds AckTable size; send_packet blocks (wait_for_queue)
	// while the table is at capacity.
	MaxInflight = 8

	// RetryTimeout is how long a pending packet waits before retransmission.
	RetryTimeout = 15 * time.Second

	// RetryTick is how often the retry actor wakes to scan the AckTable.
	RetryTick = 1 * time.Second

	// AdmissionPoll is how often wait_for_queue re-checks AckTable size.
	AdmissionPoll = 50 * time.Millisecond

	// InitialMTU is MtuState.current_size before any probe completes.
	InitialMTU = 128

	// ProbePayloadTotal is the padded size of the one-shot MTU probe.
	ProbePayloadTotal = 8192

	// probeIDDigits is the fixed width of the decimal probe id in the probe
	// payload, per spec.md §4.1.
	probeIDDigits = 12

	// probeMagic prefixes the MTU-probe payload and its reply.
	probeMagic = "PROBING:"
)

package audiobridge

import (
	"sync"
	"sync/atomic"
)

// Bridge adapts one telephony media stream to a conversational session.
//
// It is a pure format/flow adapter: it knows nothing about restaurants,
// tools, or call state. Inbound frames (caller -> agent) are mu-law decoded
// to PCM and handed to SessionSender; agent audio (agent -> caller) is
// mu-law encoded and buffered for OutboundSender with a drop-oldest policy,
// because added latency is worse for a live call than a brief audible gap.
type Bridge struct {
	sessionSend SessionSender
	outSend     OutboundSender

	mu       sync.Mutex
	lastSeq  uint64
	sawFrame bool
	outbound [][]byte
	depth    int

	duplicates atomic.Uint64
	dropped    atomic.Uint64
}

// SessionSender delivers caller PCM to the conversational session.
// convai.Session.SendAudio satisfies it.
type SessionSender func(pcm []byte)

// OutboundSender delivers one mu-law frame to the telephony stream.
// It may reject (return false) when the channel cannot accept frames.
type OutboundSender func(mulaw []byte) bool

// InboundFrame is one caller audio frame as received from the telephony
// stream, tagged with the provider's monotonically increasing sequence.
type InboundFrame struct {
	Seq   uint64
	MuLaw []byte
}

func New(sessionSend SessionSender, outSend OutboundSender, queueDepth int) *Bridge {
	if queueDepth <= 0 {
		queueDepth = 128
	}
	return &Bridge{sessionSend: sessionSend, outSend: outSend, depth: queueDepth}
}

// HandleInbound forwards one caller frame to the session. Duplicate
// sequence numbers are dropped; gaps are not reconstructed (a missing frame
// degrades to silence, which is acceptable for a live call).
func (b *Bridge) HandleInbound(frame InboundFrame) {
	if len(frame.MuLaw) == 0 {
		return
	}

	b.mu.Lock()
	if b.sawFrame && frame.Seq <= b.lastSeq {
		b.mu.Unlock()
		b.duplicates.Add(1)
		return
	}
	b.sawFrame = true
	b.lastSeq = frame.Seq
	b.mu.Unlock()

	if b.sessionSend != nil {
		b.sessionSend(DecodeMuLaw(frame.MuLaw))
	}
}

// HandleAgentAudio transcodes agent PCM and pushes it toward the caller,
// flushing as much of the buffer as the outbound channel will take.
func (b *Bridge) HandleAgentAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	b.mu.Lock()
	if len(b.outbound) >= b.depth {
		b.outbound = b.outbound[1:]
		b.dropped.Add(1)
	}
	b.outbound = append(b.outbound, EncodeMuLaw(pcm))
	b.mu.Unlock()

	b.flush()
}

func (b *Bridge) flush() {
	if b.outSend == nil {
		return
	}
	for {
		b.mu.Lock()
		if len(b.outbound) == 0 {
			b.mu.Unlock()
			return
		}
		frame := b.outbound[0]
		b.outbound = b.outbound[1:]
		b.mu.Unlock()

		if !b.outSend(frame) {
			// Put it back at the head; a later HandleAgentAudio retries.
			b.mu.Lock()
			b.outbound = append([][]byte{frame}, b.outbound...)
			b.mu.Unlock()
			return
		}
	}
}

// Clear discards buffered outbound audio (caller barge-in).
func (b *Bridge) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.outbound)
	b.outbound = nil
	return n
}

// Stats reports counters for observability.
func (b *Bridge) Stats() (duplicates, dropped uint64) {
	return b.duplicates.Load(), b.dropped.Load()
}

package arq

import (
	"go.uber.org/atomic"
)

// SenderStats is written by the sender loop and may be read from any
// goroutine.
type SenderStats struct {
	FramesSent   atomic.Uint64
	Retransmits  atomic.Uint64
	AcksReceived atomic.Uint64
	StaleAcks    atomic.Uint64
	Timeouts     atomic.Uint64
	Acknowledged atomic.Uint32 // highest cumulatively acked DATA seq
	TotalPackets atomic.Uint32
	BytesAcked   atomic.Uint64
}

type SenderSnapshot struct {
	FramesSent   uint64
	Retransmits  uint64
	AcksReceived uint64
	StaleAcks    uint64
	Timeouts     uint64
	Acknowledged uint32
	TotalPackets uint32
	BytesAcked   uint64
}

func (s *SenderStats) Snapshot() SenderSnapshot {
	return SenderSnapshot{
		FramesSent:   s.FramesSent.Load(),
		Retransmits:  s.Retransmits.Load(),
		AcksReceived: s.AcksReceived.Load(),
		StaleAcks:    s.StaleAcks.Load(),
		Timeouts:     s.Timeouts.Load(),
		Acknowledged: s.Acknowledged.Load(),
		TotalPackets: s.TotalPackets.Load(),
		BytesAcked:   s.BytesAcked.Load(),
	}
}

// ReceiverStats is written by the receiver loop and may be read from any
// goroutine.
type ReceiverStats struct {
	FramesAccepted atomic.Uint64
	Discarded      atomic.Uint64 // duplicate or out of order DATA
	Malformed      atomic.Uint64
	Foreign        atomic.Uint64 // frames from an unpinned address
	AcksSent       atomic.Uint64
	BytesWritten   atomic.Uint64
	Expected       atomic.Uint32
}

type ReceiverSnapshot struct {
	FramesAccepted uint64
	Discarded      uint64
	Malformed      uint64
	Foreign        uint64
	AcksSent       uint64
	BytesWritten   uint64
	Expected       uint32
}

func (s *ReceiverStats) Snapshot() ReceiverSnapshot {
	return ReceiverSnapshot{
		FramesAccepted: s.FramesAccepted.Load(),
		Discarded:      s.Discarded.Load(),
		Malformed:      s.Malformed.Load(),
		Foreign:        s.Foreign.Load(),
		AcksSent:       s.AcksSent.Load(),
		BytesWritten:   s.BytesWritten.Load(),
		Expected:       s.Expected.Load(),
	}
}

package arq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateSendFilename State = iota
	StateSendWindow
	StateSendEOF
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSendFilename:
		return "SendFilename"
	case StateSendWindow:
		return "SendWindow"
	case StateSendEOF:
		return "SendEOF"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "undefined"
	}
}

// Sender transfers one file: FILENAME stop-and-wait, DATA frames through a
// Go-Back-N window, then EOF stop-and-wait.
type Sender struct {
	trans   Transport `desc:"datagram channel to the receiver"`
	peer    net.Addr  `desc:"receiver address"`
	name    string    `desc:"basename sent in the FILENAME frame"`
	chunks  [][]byte  `desc:"file content, chunks[i] is DATA seq i+1"`
	conf    Config    `desc:"protocol parameters"`
	log     logrus.FieldLogger
	state   State
	win     *window
	stats   SenderStats
	started time.Time
}

func NewSender(trans Transport, peer net.Addr, name string, chunks [][]byte, conf Config) (*Sender, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	} else if name == "" {
		return nil, fmt.Errorf("%w: empty file name", errBadConfig)
	} else if uint64(len(chunks)) >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d chunks overflow the sequence space", errBadConfig, len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > conf.ChunkSize {
			return nil, fmt.Errorf("%w: chunk %d is %d bytes, limit %d", errBadConfig, i, len(chunk), conf.ChunkSize)
		}
	}

	s := &Sender{
		trans:  trans,
		peer:   peer,
		name:   name,
		chunks: chunks,
		conf:   conf,
		log:    conf.logger(),
		state:  StateSendFilename,
		win:    newWindow(conf.WindowSize, uint32(len(chunks))),
	}
	s.stats.TotalPackets.Store(uint32(len(chunks)))
	return s, nil
}

func (s *Sender) State() State {
	return s.state
}

// Stats may be read concurrently with Run.
func (s *Sender) Stats() *SenderStats {
	return &s.stats
}

// Run drives the transfer until the EOF frame is acknowledged, the retry
// budget is exhausted or ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	s.started = time.Now()
	total := uint32(len(s.chunks))
	for {
		var (
			next State
			err  error
		)
		switch s.state {
		case StateSendFilename:
			next = StateSendWindow
			err = s.stopAndWait(ctx, 0, FrameFilename, []byte(s.name))
		case StateSendWindow:
			next = StateSendEOF
			err = s.sendWindow(ctx)
		case StateSendEOF:
			next = StateDone
			err = s.stopAndWait(ctx, total+1, FrameEOF, nil)
		case StateDone:
			s.log.Infof("sender done, %d packets in %s", total, time.Since(s.started).Round(time.Millisecond))
			return nil
		default:
			return fmt.Errorf("sender in state %s", s.state)
		}

		if err != nil {
			var failed *TransferFailedError
			if errors.As(err, &failed) {
				s.state = StateFailed
			}
			return err
		}
		s.log.Debugf("sender %s -> %s", s.state, next)
		s.state = next
	}
}

// stopAndWait sends one control frame until its ACK arrives. Any other
// datagram, or silence for ControlTimeout, triggers a resend; only silence
// counts against the retry budget.
func (s *Sender) stopAndWait(ctx context.Context, seq uint32, typ FrameType, payload []byte) error {
	data := Encode(seq, typ, payload)
	sent, timeouts := 0, 0
	for {
		if err := s.budget(ctx, seq, timeouts); err != nil {
			return err
		}
		s.send(data)
		if sent > 0 {
			s.stats.Retransmits.Inc()
		}
		sent++

		dgram, err := s.trans.Receive(s.conf.ControlTimeout)
		if err != nil {
			return fmt.Errorf("sender wait ack for %s %d: %w", typ, seq, err)
		} else if dgram.Timeout {
			s.stats.Timeouts.Inc()
			timeouts++
			s.log.Debugf("sender timeout waiting ack for %s %d, resending", typ, seq)
			continue
		}
		if ack, ok := s.parseAck(dgram); ok && ack == seq {
			return nil
		}
		s.log.Debugf("sender no matching ack for %s %d, resending", typ, seq)
	}
}

func (s *Sender) sendWindow(ctx context.Context) error {
	w := s.win
	retries := 0
	for !w.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		for w.CanPush() {
			seq := w.Push(now)
			s.sendData(seq)
		}

		oldest, _ := w.Oldest()
		if wait := s.conf.Timeout - time.Since(oldest); wait > 0 {
			dgram, err := s.trans.Receive(wait)
			if err != nil {
				return fmt.Errorf("sender wait ack for data %d: %w", w.base, err)
			} else if dgram.Timeout {
				s.stats.Timeouts.Inc()
			} else if ack, ok := s.parseAck(dgram); ok {
				if s.advance(ack) {
					retries = 0
					continue
				}
			}
		}

		if oldest, _ = w.Oldest(); time.Since(oldest) < s.conf.Timeout {
			continue
		}
		retries++
		if err := s.budget(ctx, w.base, retries); err != nil {
			return err
		}
		s.log.Debugf("sender timeout on packet %d, resending [%d, %d)", w.base, w.base, w.next)
		w.Touch(time.Now())
		for seq := w.base; seq < w.next; seq++ {
			s.sendData(seq)
			s.stats.Retransmits.Inc()
		}
	}
	return nil
}

// advance applies a cumulative DATA ack and reports whether the window moved.
func (s *Sender) advance(ack uint32) bool {
	w := s.win
	from := w.base
	cnt := w.Ack(ack)
	if cnt == 0 {
		s.stats.StaleAcks.Inc()
		s.log.Debugf("sender ignore ack %d, window [%d, %d)", ack, w.base, w.next)
		return false
	}
	var acked uint64
	for seq := from; seq <= ack; seq++ {
		acked += uint64(len(s.chunks[seq-1]))
	}
	s.stats.BytesAcked.Add(acked)
	s.stats.Acknowledged.Store(ack)
	s.log.Debugf("sender recv ack %d, progress %d/%d", ack, ack, w.limit)
	return true
}

func (s *Sender) sendData(seq uint32) {
	s.log.Debugf("sender send packet %d/%d", seq, s.win.limit)
	s.send(Encode(seq, FrameData, s.chunks[seq-1]))
}

func (s *Sender) send(data []byte) {
	s.stats.FramesSent.Inc()
	if err := s.trans.Send(s.peer, data); err != nil {
		s.log.Warnf("sender write to %s failed %s", s.peer, err.Error())
	}
}

// parseAck returns the sequence of an ACK frame from the peer.
func (s *Sender) parseAck(dgram Datagram) (uint32, bool) {
	if s.conf.PinPeer && !sameAddr(dgram.Addr, s.peer) {
		s.log.Debugf("sender drop datagram from %s", dgram.Addr)
		return 0, false
	}
	f, err := Decode(dgram.Data)
	if err != nil {
		s.log.Debugf("sender drop datagram: %s", err.Error())
		return 0, false
	} else if f.Type != FrameAck {
		s.log.Debugf("sender drop unexpected %s", f)
		return 0, false
	}
	s.stats.AcksReceived.Inc()
	return f.Seq, true
}

// budget fails the transfer once retries exceeds MaxRetries or the transfer
// has run longer than MaxElapsed.
func (s *Sender) budget(ctx context.Context, seq uint32, retries int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	elapsed := time.Since(s.started)
	if (s.conf.MaxRetries > 0 && retries > s.conf.MaxRetries) ||
		(s.conf.MaxElapsed > 0 && elapsed > s.conf.MaxElapsed) {
		err := &TransferFailedError{Phase: s.state, Seq: seq, Attempts: retries, Elapsed: elapsed}
		s.log.Errorf("sender give up: %s", err.Error())
		return err
	}
	return nil
}

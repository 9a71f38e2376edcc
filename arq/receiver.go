package arq

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink creates the destination for a received file.
type Sink interface {
	Create(name string) (io.WriteCloser, error)
}

// Result describes a completed reception.
type Result struct {
	Name   string
	Bytes  uint64
	Frames uint32
	Peer   net.Addr
}

// pollInterval bounds each blocking receive while ctx can be cancelled.
const pollInterval = 500 * time.Millisecond

// Receiver accepts DATA strictly in sequence, writes it to the sink and
// answers every processed frame with a cumulative ACK. It serves exactly
// one transfer.
type Receiver struct {
	trans    Transport      `desc:"datagram channel the sender writes to"`
	sink     Sink           `desc:"where the received file is created"`
	conf     Config         `desc:"protocol parameters"`
	expected uint32         `desc:"next seq accepted, 0 while awaiting FILENAME"`
	file     io.WriteCloser `desc:"destination, open between FILENAME and EOF"`
	peer     net.Addr       `desc:"sender address pinned on FILENAME"`
	log      logrus.FieldLogger
	result   Result
	stats    ReceiverStats
}

func NewReceiver(trans Transport, sink Sink, conf Config) (*Receiver, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{
		trans: trans,
		sink:  sink,
		conf:  conf,
		log:   conf.logger(),
	}, nil
}

// Expected returns the next sequence number the receiver will accept.
func (r *Receiver) Expected() uint32 {
	return r.expected
}

// Stats may be read concurrently with Run.
func (r *Receiver) Stats() *ReceiverStats {
	return &r.stats
}

// Run processes frames until an EOF closes the transfer. The destination is
// closed on every return path; after an error it is left incomplete.
func (r *Receiver) Run(ctx context.Context) (Result, error) {
	defer r.abandon()

	wait := time.Duration(0)
	if ctx.Done() != nil {
		wait = pollInterval
	}
	for {
		if err := ctx.Err(); err != nil {
			return r.result, err
		}
		dgram, err := r.trans.Receive(wait)
		if err != nil {
			return r.result, fmt.Errorf("receiver read: %w", err)
		} else if dgram.Timeout {
			continue
		}

		done, err := r.handle(dgram)
		if err != nil {
			r.log.Errorf("receiver failed %s", err.Error())
			return r.result, err
		} else if done {
			r.linger(ctx)
			return r.result, nil
		}
	}
}

// handle applies one datagram and reports whether the transfer finished.
func (r *Receiver) handle(dgram Datagram) (bool, error) {
	f, err := Decode(dgram.Data)
	if err != nil {
		r.stats.Malformed.Inc()
		r.log.Debugf("receiver drop datagram from %s: %s", dgram.Addr, err.Error())
		return false, nil
	}
	if r.peer != nil && r.conf.PinPeer && !sameAddr(dgram.Addr, r.peer) {
		r.stats.Foreign.Inc()
		r.log.Warnf("receiver drop %s from %s, session pinned to %s", f, dgram.Addr, r.peer)
		return false, nil
	}

	switch f.Type {
	case FrameFilename:
		return false, r.onFilename(f, dgram.Addr)
	case FrameData:
		return false, r.onData(f, dgram.Addr)
	case FrameEOF:
		return r.onEOF(f, dgram.Addr)
	default:
		r.log.Debugf("receiver ignore %s from %s", f, dgram.Addr)
		return false, nil
	}
}

func (r *Receiver) onFilename(f Frame, addr net.Addr) error {
	if r.expected == 0 {
		name := string(f.Payload)
		file, err := r.sink.Create(name)
		if err != nil {
			return fmt.Errorf("receiver create %q: %w", name, err)
		}
		r.file, r.peer = file, addr
		r.result.Name, r.result.Peer = name, addr
		r.setExpected(1)
		r.log.Infof("receiver receiving file %s from %s", name, addr)
	}
	r.ack(f.Seq, addr)
	return nil
}

func (r *Receiver) onData(f Frame, addr net.Addr) error {
	if r.file == nil {
		r.stats.Discarded.Inc()
		r.log.Debugf("receiver drop %s, no transfer open", f)
		return nil
	}
	if f.Seq == r.expected {
		if cnt, err := r.file.Write(f.Payload); err != nil {
			return fmt.Errorf("receiver write packet %d: %w", f.Seq, err)
		} else if cnt < len(f.Payload) {
			return fmt.Errorf("receiver write packet %d: %w", f.Seq, io.ErrShortWrite)
		}
		r.result.Bytes += uint64(len(f.Payload))
		r.result.Frames++
		r.stats.FramesAccepted.Inc()
		r.stats.BytesWritten.Add(uint64(len(f.Payload)))
		r.setExpected(r.expected + 1)
		r.log.Debugf("receiver accept packet %d", f.Seq)
	} else {
		r.stats.Discarded.Inc()
		r.log.Debugf("receiver discard packet %d, expect %d", f.Seq, r.expected)
	}
	r.ack(r.expected-1, addr)
	return nil
}

// onEOF closes the transfer only once every DATA frame is accounted for. An
// early EOF gets the cumulative data ACK instead of its own.
func (r *Receiver) onEOF(f Frame, addr net.Addr) (bool, error) {
	if r.file == nil {
		r.log.Debugf("receiver drop %s, no transfer open", f)
		return false, nil
	}
	if f.Seq != r.expected {
		r.log.Warnf("receiver early eof %d, expect %d", f.Seq, r.expected)
		r.ack(r.expected-1, addr)
		return false, nil
	}

	file := r.file
	r.file = nil
	if err := file.Close(); err != nil {
		return false, fmt.Errorf("receiver close %q: %w", r.result.Name, err)
	}
	r.ack(f.Seq, addr)
	r.log.Infof("receiver file %s received, %d bytes in %d packets", r.result.Name, r.result.Bytes, r.result.Frames)
	return true, nil
}

// linger keeps answering re-sent EOF frames so a lost final ACK does not
// leave the sender retrying into a closed port.
func (r *Receiver) linger(ctx context.Context) {
	if r.conf.Linger <= 0 {
		return
	}
	eof := r.expected
	deadline := time.Now().Add(r.conf.Linger)
	for ctx.Err() == nil {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		dgram, err := r.trans.Receive(left)
		if err != nil {
			return
		} else if dgram.Timeout || !sameAddr(dgram.Addr, r.peer) {
			continue
		}
		if f, err := Decode(dgram.Data); err == nil && f.Type == FrameEOF && f.Seq == eof {
			r.ack(eof, dgram.Addr)
		}
	}
}

func (r *Receiver) ack(seq uint32, addr net.Addr) {
	r.stats.AcksSent.Inc()
	if err := r.trans.Send(addr, Encode(seq, FrameAck, nil)); err != nil {
		r.log.Warnf("receiver send ack %d to %s failed %s", seq, addr, err.Error())
	}
}

func (r *Receiver) setExpected(seq uint32) {
	r.expected = seq
	r.stats.Expected.Store(seq)
}

func (r *Receiver) abandon() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

package arq

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

const testChunk = 64

func simConfig() Config {
	conf := testConfig()
	conf.ChunkSize = testChunk
	conf.Timeout = 100 * time.Millisecond
	conf.ControlTimeout = 50 * time.Millisecond
	conf.MaxRetries = 50
	conf.Linger = 500 * time.Millisecond
	return conf
}

func randomData(seed int64, size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func split(data []byte, size int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

type simResult struct {
	sender   *Sender
	sendErr  error
	recv     *Receiver
	recvErr  error
	received []byte
}

// runTransfer moves data from a "client" to a "server" endpoint of sim and
// waits for both sides to finish.
func runTransfer(t *testing.T, sim *LatencySimulator, up, down Impairment, data []byte, conf Config) simResult {
	t.Helper()
	client := sim.Endpoint("client", up)
	server := sim.Endpoint("server", down)
	defer client.Close()
	defer server.Close()

	sink := new(memSink)
	recv, err := NewReceiver(server, sink, conf)
	if err != nil {
		t.Fatalf("new receiver failed %s", err.Error())
	}
	sender, err := NewSender(client, server.LocalAddr(), "payload.bin", split(data, conf.ChunkSize), conf)
	if err != nil {
		t.Fatalf("new sender failed %s", err.Error())
	}

	var (
		rslt simResult
		wg   sync.WaitGroup
	)
	rslt.sender, rslt.recv = sender, recv
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, rslt.recvErr = recv.Run(context.Background())
	}()
	rslt.sendErr = sender.Run(context.Background())
	if rslt.sendErr != nil {
		server.Close()
	}
	wg.Wait()

	if f := sink.files["payload.bin"]; f != nil {
		rslt.received = f.Bytes()
	}
	return rslt
}

func checkDelivered(t *testing.T, rslt simResult, data []byte) {
	t.Helper()
	if rslt.sendErr != nil {
		t.Fatalf("sender failed %s", rslt.sendErr.Error())
	}
	if rslt.recvErr != nil {
		t.Fatalf("receiver failed %s", rslt.recvErr.Error())
	}
	if !bytes.Equal(rslt.received, data) {
		t.Fatalf("received %d bytes differ from the %d sent", len(rslt.received), len(data))
	}
	if rslt.sender.State() != StateDone {
		t.Errorf("sender state %s, want Done", rslt.sender.State())
	}
	total := uint32(len(split(data, testChunk)))
	if got := rslt.recv.Expected(); got != total+1 {
		t.Errorf("receiver expected %d, want %d", got, total+1)
	}
	snap := rslt.sender.Stats().Snapshot()
	if snap.Acknowledged != total || snap.BytesAcked != uint64(len(data)) {
		t.Errorf("sender stats %+v", snap)
	}
}

func TestTransferClean(t *testing.T) {
	data := randomData(1, 100*testChunk+17)
	sim := NewLatencySimulator(1)
	rslt := runTransfer(t, sim, Impairment{}, Impairment{}, data, simConfig())
	checkDelivered(t, rslt, data)
	if snap := rslt.sender.Stats().Snapshot(); snap.Retransmits != 0 {
		t.Errorf("retransmits %d on a clean path", snap.Retransmits)
	}
}

func TestTransferEmptyFile(t *testing.T) {
	sim := NewLatencySimulator(2)
	rslt := runTransfer(t, sim, Impairment{}, Impairment{}, nil, simConfig())
	checkDelivered(t, rslt, nil)
}

func TestTransferSingleChunk(t *testing.T) {
	data := randomData(3, testChunk)
	sim := NewLatencySimulator(3)
	rslt := runTransfer(t, sim, Impairment{}, Impairment{}, data, simConfig())
	checkDelivered(t, rslt, data)
}

// Symmetric delay well under the retransmission timeout.
func TestTransferDelay(t *testing.T) {
	data := randomData(4, 120*testChunk)
	delay := Impairment{Delay: 5 * time.Millisecond}
	sim := NewLatencySimulator(4)
	rslt := runTransfer(t, sim, delay, delay, data, simConfig())
	checkDelivered(t, rslt, data)
}

func TestTransferDuplication(t *testing.T) {
	data := randomData(5, 120*testChunk)
	up := Impairment{Delay: 2 * time.Millisecond, Duplicate: 20}
	down := Impairment{Delay: 2 * time.Millisecond}
	sim := NewLatencySimulator(5)
	rslt := runTransfer(t, sim, up, down, data, simConfig())
	checkDelivered(t, rslt, data)
	if snap := rslt.recv.Stats().Snapshot(); snap.Discarded == 0 {
		t.Errorf("no duplicate reached the receiver")
	}
}

func TestTransferAckLoss(t *testing.T) {
	data := randomData(6, 120*testChunk)
	up := Impairment{Delay: 2 * time.Millisecond}
	down := Impairment{Delay: 2 * time.Millisecond, Loss: 5}
	sim := NewLatencySimulator(6)
	rslt := runTransfer(t, sim, up, down, data, simConfig())
	checkDelivered(t, rslt, data)
}

func TestTransferReorder(t *testing.T) {
	data := randomData(7, 120*testChunk)
	up := Impairment{Delay: 5 * time.Millisecond, Reorder: 2}
	down := Impairment{Delay: 5 * time.Millisecond}
	sim := NewLatencySimulator(7)
	rslt := runTransfer(t, sim, up, down, data, simConfig())
	checkDelivered(t, rslt, data)
}

func TestTransferDataLoss(t *testing.T) {
	data := randomData(8, 60*testChunk)
	up := Impairment{Delay: 2 * time.Millisecond, Loss: 10}
	down := Impairment{Delay: 2 * time.Millisecond, Loss: 10}
	sim := NewLatencySimulator(8)
	rslt := runTransfer(t, sim, up, down, data, simConfig())
	checkDelivered(t, rslt, data)
	if snap := rslt.sender.Stats().Snapshot(); snap.Retransmits == 0 || snap.Timeouts == 0 {
		t.Errorf("lossy path without retransmission: %+v", snap)
	}
}

// Losing the first copy of DATA 3 makes the receiver discard 4..7 and the
// sender resend the whole window from 3.
func TestTransferGoBackN(t *testing.T) {
	data := randomData(9, 10*testChunk)
	sim := NewLatencySimulator(9)

	var (
		mu    sync.Mutex
		sends = make(map[uint32]int)
	)
	sim.DropIf(func(from, to simAddr, raw []byte) bool {
		f, err := Decode(raw)
		if err != nil || from != "client" || f.Type != FrameData {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		sends[f.Seq]++
		return f.Seq == 3 && sends[f.Seq] == 1
	})

	delay := Impairment{Delay: time.Millisecond}
	rslt := runTransfer(t, sim, delay, delay, data, simConfig())
	checkDelivered(t, rslt, data)

	mu.Lock()
	defer mu.Unlock()
	for seq := uint32(3); seq <= 7; seq++ {
		if sends[seq] < 2 {
			t.Errorf("packet %d sent %d times, want a go-back-n resend", seq, sends[seq])
		}
	}
	for _, seq := range []uint32{1, 2} {
		if sends[seq] != 1 {
			t.Errorf("acked packet %d sent %d times", seq, sends[seq])
		}
	}
	if snap := rslt.recv.Stats().Snapshot(); snap.Discarded < 4 {
		t.Errorf("receiver discarded %d, want the frames after the gap", snap.Discarded)
	}
}

func TestTransferNoReceiver(t *testing.T) {
	conf := simConfig()
	conf.ControlTimeout = 10 * time.Millisecond
	conf.MaxRetries = 3

	sim := NewLatencySimulator(10)
	client := sim.Endpoint("client", Impairment{})
	defer client.Close()
	sender, err := NewSender(client, simAddr("nobody"), "x", split(randomData(10, 100), testChunk), conf)
	if err != nil {
		t.Fatalf("new sender failed %s", err.Error())
	}

	err = sender.Run(context.Background())
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("run err %v, want ErrTransferFailed", err)
	}
	var failed *TransferFailedError
	if !errors.As(err, &failed) || failed.Phase != StateSendFilename || failed.Seq != 0 {
		t.Errorf("failure detail %+v", failed)
	}
	if sender.State() != StateFailed {
		t.Errorf("state %s, want Failed", sender.State())
	}
	if snap := sender.Stats().Snapshot(); snap.FramesSent != uint64(conf.MaxRetries+1) {
		t.Errorf("sent %d filename frames, want %d", snap.FramesSent, conf.MaxRetries+1)
	}
}

// The receiver vanishes once the FILENAME is acknowledged.
func TestTransferReceiverGone(t *testing.T) {
	conf := simConfig()
	conf.Timeout = 20 * time.Millisecond
	conf.MaxRetries = 2

	sim := NewLatencySimulator(11)
	client := sim.Endpoint("client", Impairment{})
	defer client.Close()
	server := sim.Endpoint("server", Impairment{})
	go func() {
		dgram, err := server.Receive(0)
		if err != nil {
			return
		}
		if f, err := Decode(dgram.Data); err == nil && f.Type == FrameFilename {
			server.Send(dgram.Addr, Encode(0, FrameAck, nil))
		}
		server.Close()
	}()

	sender, err := NewSender(client, server.LocalAddr(), "x", split(randomData(11, 500), testChunk), conf)
	if err != nil {
		t.Fatalf("new sender failed %s", err.Error())
	}
	err = sender.Run(context.Background())
	var failed *TransferFailedError
	if !errors.As(err, &failed) || failed.Phase != StateSendWindow || failed.Seq != 1 {
		t.Fatalf("run err %v, want failure on packet 1", err)
	}
}

func TestTransferMaxElapsed(t *testing.T) {
	conf := simConfig()
	conf.ControlTimeout = 10 * time.Millisecond
	conf.MaxRetries = 0
	conf.MaxElapsed = 80 * time.Millisecond

	sim := NewLatencySimulator(12)
	client := sim.Endpoint("client", Impairment{})
	defer client.Close()
	sender, err := NewSender(client, simAddr("nobody"), "x", nil, conf)
	if err != nil {
		t.Fatalf("new sender failed %s", err.Error())
	}
	start := time.Now()
	if err := sender.Run(context.Background()); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("run err %v, want ErrTransferFailed", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("max elapsed ignored, ran %s", took)
	}
}

func TestSenderCancel(t *testing.T) {
	conf := simConfig()
	conf.MaxRetries = 0

	sim := NewLatencySimulator(13)
	client := sim.Endpoint("client", Impairment{})
	defer client.Close()
	sender, err := NewSender(client, simAddr("nobody"), "x", nil, conf)
	if err != nil {
		t.Fatalf("new sender failed %s", err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := sender.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run err %v, want deadline exceeded", err)
	}
	if sender.State() == StateFailed {
		t.Errorf("cancelled transfer reported as failed")
	}
}

func TestNewSenderRejects(t *testing.T) {
	conf := testConfig()
	trans := &script{}
	if _, err := NewSender(trans, simAddr("s"), "", nil, conf); err == nil {
		t.Errorf("empty name accepted")
	}
	big := [][]byte{make([]byte, conf.ChunkSize+1)}
	if _, err := NewSender(trans, simAddr("s"), "f", big, conf); err == nil {
		t.Errorf("oversized chunk accepted")
	}
	conf.WindowSize = 0
	if _, err := NewSender(trans, simAddr("s"), "f", nil, conf); !errors.Is(err, errBadConfig) {
		t.Errorf("zero window accepted: %v", err)
	}
}

// Acks for other frames and from other hosts must not complete FILENAME.
func TestSenderStopAndWaitMatching(t *testing.T) {
	conf := testConfig()
	trans := &script{in: []Datagram{
		frameFrom("server", 7, FrameAck, nil),
		frameFrom("intruder", 0, FrameAck, nil),
		frameFrom("server", 0, FrameData, nil),
		{Data: []byte{0}, Addr: simAddr("server")},
		frameFrom("server", 0, FrameAck, nil),
		frameFrom("server", 1, FrameAck, nil),
	}}
	sender, err := NewSender(trans, simAddr("server"), "f", nil, conf)
	if err != nil {
		t.Fatalf("new sender failed %s", err.Error())
	}
	if err := sender.Run(context.Background()); err != nil {
		t.Fatalf("run failed %s", err.Error())
	}
	var filenames, eofs int
	for _, d := range trans.sent {
		switch d.frame.Type {
		case FrameFilename:
			filenames++
		case FrameEOF:
			eofs++
		}
	}
	if filenames != 5 || eofs != 1 {
		t.Errorf("sent %d filename and %d eof frames, want 5 and 1", filenames, eofs)
	}
}

// dropFirstFinalAck loses the receiver's first ACK of the EOF frame.
func dropFirstFinalAck(sim *LatencySimulator, total uint32) *int {
	dropped := new(int)
	sim.DropIf(func(from, to simAddr, raw []byte) bool {
		f, err := Decode(raw)
		if err != nil || from != "server" || f.Type != FrameAck || f.Seq != total+1 {
			return false
		}
		*dropped++
		return *dropped == 1
	})
	return dropped
}

func TestReceiverLingerAnswersEOF(t *testing.T) {
	data := randomData(14, 20*testChunk)
	sim := NewLatencySimulator(14)
	dropped := dropFirstFinalAck(sim, 20)

	delay := Impairment{Delay: time.Millisecond}
	rslt := runTransfer(t, sim, delay, delay, data, simConfig())
	checkDelivered(t, rslt, data)
	if *dropped < 2 {
		t.Errorf("eof acked %d times, want a re-ack while lingering", *dropped)
	}
}

func TestReceiverWithoutLinger(t *testing.T) {
	data := randomData(15, 20*testChunk)
	sim := NewLatencySimulator(15)
	dropFirstFinalAck(sim, 20)

	conf := simConfig()
	conf.Linger = 0
	conf.MaxRetries = 3
	delay := Impairment{Delay: time.Millisecond}
	rslt := runTransfer(t, sim, delay, delay, data, conf)
	if rslt.recvErr != nil {
		t.Fatalf("receiver failed %s", rslt.recvErr.Error())
	}
	if !bytes.Equal(rslt.received, data) {
		t.Errorf("file not written before the receiver left")
	}
	var failed *TransferFailedError
	if !errors.As(rslt.sendErr, &failed) || failed.Phase != StateSendEOF || failed.Seq != 21 {
		t.Errorf("send err %v, want failure on eof 21", rslt.sendErr)
	}
}

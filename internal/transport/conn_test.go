package transport

import (
	"bytes"
	"crypto/rand"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/errs"
)

// lossyConn drops every dropEvery-th datagram it writes and sends every
// dupEvery-th one twice.
type lossyConn struct {
	net.PacketConn

	mu        sync.Mutex
	writes    int
	dropEvery int
	dupEvery  int
	dropped   int
}

func (l *lossyConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	l.mu.Lock()
	l.writes++
	n := l.writes
	drop := l.dropEvery > 0 && n%l.dropEvery == 0
	dup := l.dupEvery > 0 && n%l.dupEvery == 0
	if drop {
		l.dropped++
	}
	l.mu.Unlock()

	if drop {
		return len(b), nil
	}
	if dup {
		if _, err := l.PacketConn.WriteTo(b, addr); err != nil {
			return 0, err
		}
	}
	return l.PacketConn.WriteTo(b, addr)
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testOptions() Options {
	return Options{
		ChunkSize:   512,
		InitialRTO:  20 * time.Millisecond,
		MinRTO:      5 * time.Millisecond,
		MaxRTO:      100 * time.Millisecond,
		MaxRetries:  30,
		IdleTimeout: 5 * time.Second,
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// transfer pushes data from a to b and returns what b received.
func transfer(t *testing.T, a, b net.PacketConn, aAddr, bAddr net.Addr, data []byte) ([]byte, *Conn, *Conn) {
	t.Helper()

	opts := testOptions()
	sender := New(a, bAddr, opts)
	receiver := New(b, aAddr, opts)

	sendErr := make(chan error, 1)
	go func() {
		for off := 0; off < len(data); off += opts.ChunkSize {
			end := off + opts.ChunkSize
			if end > len(data) {
				end = len(data)
			}
			if err := sender.Send(data[off:end], false, 0); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- sender.End()
	}()

	var got bytes.Buffer
	buf := make([]byte, opts.ChunkSize)
	for {
		n, err := receiver.Receive(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		got.Write(buf[:n])
	}

	lingerDone := make(chan error, 1)
	go func() { lingerDone <- receiver.Linger(500 * time.Millisecond) }()

	select {
	case err := <-sendErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("sender did not finish")
	}
	require.NoError(t, <-lingerDone)

	return got.Bytes(), sender, receiver
}

func TestTransferLossless(t *testing.T) {
	a, b := listen(t), listen(t)
	data := randomBytes(t, 64*1024+17)

	got, sender, receiver := transfer(t, a, b, a.LocalAddr(), b.LocalAddr(), data)

	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), sender.Stats().BytesSent)
	assert.Equal(t, int64(len(data)), receiver.Stats().BytesReceived)
}

func TestTransferUnderLossAndDuplication(t *testing.T) {
	a, b := listen(t), listen(t)
	lossyA := &lossyConn{PacketConn: a, dropEvery: 3, dupEvery: 7}
	lossyB := &lossyConn{PacketConn: b, dropEvery: 4}
	data := randomBytes(t, 32*1024+3)

	got, sender, receiver := transfer(t, lossyA, lossyB, a.LocalAddr(), b.LocalAddr(), data)

	require.Equal(t, len(data), len(got))
	assert.True(t, bytes.Equal(data, got), "payload differs")
	assert.Greater(t, sender.Stats().Retransmits, int64(0))
	assert.Greater(t, receiver.Stats().Duplicates, int64(0))
	assert.Greater(t, lossyA.dropped, 0)
	assert.Greater(t, lossyB.dropped, 0)
}

func TestRequireAckWaits(t *testing.T) {
	a, b := listen(t), listen(t)
	sender := New(a, b.LocalAddr(), testOptions())
	receiver := New(b, a.LocalAddr(), testOptions())

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 512)
		n, _ := receiver.Receive(buf)
		got <- string(buf[:n])
	}()

	require.NoError(t, sender.Send([]byte("ping"), true, 0))
	assert.Nil(t, sender.outstanding)
	assert.Equal(t, "ping", <-got)

	// Without requireAck the frame stays outstanding until the next call.
	go func() {
		buf := make([]byte, 512)
		n, _ := receiver.Receive(buf)
		got <- string(buf[:n])
	}()
	require.NoError(t, sender.Send([]byte("pong"), false, 0))
	assert.NotNil(t, sender.outstanding)
	require.NoError(t, sender.Flush())
	assert.Nil(t, sender.outstanding)
	assert.Equal(t, "pong", <-got)
}

// readAck reads one ACK from raw within a short window.
func readAck(t *testing.T, raw *net.UDPConn) (uint32, bool) {
	t.Helper()
	buf := make([]byte, 64)
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	n, _, err := raw.ReadFrom(buf)
	if err != nil {
		return 0, false
	}
	f, err := decodeFrame(buf[:n])
	require.NoError(t, err)
	require.Equal(t, kindAck, f.kind)
	return f.seq, true
}

func TestDuplicatesAreAckedNotRedelivered(t *testing.T) {
	raw, b := listen(t), listen(t)
	receiver := New(b, raw.LocalAddr(), testOptions())
	buf := make([]byte, 512)

	write := func(frame []byte) {
		_, err := raw.WriteTo(frame, b.LocalAddr())
		require.NoError(t, err)
	}

	write(encodeData(1, []byte("a")))
	n, err := receiver.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "a", string(buf[:n]))
	seq, ok := readAck(t, raw)
	require.True(t, ok)
	assert.Equal(t, uint32(1), seq)

	// The sender missed our ACK and retransmits 1, then jumps ahead to 3.
	write(encodeData(1, []byte("a")))
	write(encodeData(3, []byte("c")))
	write(encodeData(2, []byte("b")))

	n, err = receiver.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "b", string(buf[:n]))

	seq, ok = readAck(t, raw)
	require.True(t, ok)
	assert.Equal(t, uint32(1), seq, "duplicate is acknowledged again")
	seq, ok = readAck(t, raw)
	require.True(t, ok)
	assert.Equal(t, uint32(2), seq, "frame from the future gets no ACK")

	assert.Equal(t, int64(1), receiver.Stats().Duplicates)
	assert.Equal(t, int64(2), receiver.Stats().BytesReceived)
}

func TestEndOfStreamIsSticky(t *testing.T) {
	raw, b := listen(t), listen(t)
	receiver := New(b, raw.LocalAddr(), testOptions())

	_, err := raw.WriteTo(encodeData(1, nil), b.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := receiver.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	start := time.Now()
	for i := 0; i < 3; i++ {
		n, err = receiver.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "calls after end-of-stream must not block")
}

func TestLingerReacksLostEndOfStream(t *testing.T) {
	raw, b := listen(t), listen(t)
	receiver := New(b, raw.LocalAddr(), testOptions())

	_, err := raw.WriteTo(encodeData(1, nil), b.LocalAddr())
	require.NoError(t, err)
	n, err := receiver.Receive(make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, 0, n)
	_, ok := readAck(t, raw)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- receiver.Linger(300 * time.Millisecond) }()

	_, err = raw.WriteTo(encodeData(1, nil), b.LocalAddr())
	require.NoError(t, err)
	seq, ok := readAck(t, raw)
	require.True(t, ok)
	assert.Equal(t, uint32(1), seq)
	assert.NoError(t, <-done)
}

func TestSendTimesOutWithoutAcks(t *testing.T) {
	a, silent := listen(t), listen(t)
	opts := testOptions()
	opts.MaxRetries = 2
	opts.InitialRTO = 10 * time.Millisecond
	sender := New(a, silent.LocalAddr(), opts)

	err := sender.Send([]byte("hello"), true, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTransportTimeout))
	assert.Equal(t, errs.KindTransportTimeout, errs.KindOf(err))
	assert.Equal(t, int64(2), sender.Stats().Retransmits)
	assert.Equal(t, int64(3), sender.Stats().FramesSent)
}

func TestReceiveIdleTimeout(t *testing.T) {
	a, b := listen(t), listen(t)
	opts := testOptions()
	opts.IdleTimeout = 50 * time.Millisecond
	receiver := New(b, a.LocalAddr(), opts)

	_, err := receiver.Receive(make([]byte, 16))
	assert.True(t, errors.Is(err, errs.ErrTransportTimeout))
}

func TestForeignDatagramsIgnored(t *testing.T) {
	peer, stranger, b := listen(t), listen(t), listen(t)
	receiver := New(b, peer.LocalAddr(), testOptions())

	_, err := stranger.WriteTo(encodeData(1, []byte("evil")), b.LocalAddr())
	require.NoError(t, err)
	_, err = b.WriteTo([]byte("garbage"), b.LocalAddr())
	require.NoError(t, err)
	_, err = peer.WriteTo([]byte{0x7f}, b.LocalAddr())
	require.NoError(t, err)
	_, err = peer.WriteTo(encodeData(1, []byte("good")), b.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := receiver.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "good", string(buf[:n]))
}

func TestForeignHandlerAbortsReceive(t *testing.T) {
	peer, relay, b := listen(t), listen(t), listen(t)
	rejected := errs.E(errs.KindPassphraseNotFound, "relay", errs.ErrPassphraseNotFound)

	opts := testOptions()
	var seen []string
	opts.Foreign = func(from net.Addr, data []byte) error {
		seen = append(seen, string(data))
		if from.String() == relay.LocalAddr().String() && string(data) == "reject" {
			return rejected
		}
		return nil
	}
	receiver := New(b, peer.LocalAddr(), opts)

	_, err := relay.WriteTo([]byte("noise"), b.LocalAddr())
	require.NoError(t, err)
	_, err = relay.WriteTo([]byte("reject"), b.LocalAddr())
	require.NoError(t, err)

	start := time.Now()
	_, err = receiver.Receive(make([]byte, 16))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPassphraseNotFound)
	assert.Equal(t, errs.KindPassphraseNotFound, errs.KindOf(err), "not reported as a network failure")
	assert.Equal(t, []string{"noise", "reject"}, seen)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSequenceWraparound(t *testing.T) {
	a, b := listen(t), listen(t)
	sender := New(a, b.LocalAddr(), testOptions())
	receiver := New(b, a.LocalAddr(), testOptions())
	sender.nextSeq = math.MaxUint32 - 1
	receiver.expectSeq = math.MaxUint32 - 1

	sendErr := make(chan error, 1)
	go func() {
		for _, chunk := range []string{"a", "b", "c", "d"} {
			if err := sender.Send([]byte(chunk), false, 0); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- sender.End()
	}()

	var got bytes.Buffer
	buf := make([]byte, 16)
	for {
		n, err := receiver.Receive(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		got.Write(buf[:n])
	}

	select {
	case err := <-sendErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not finish")
	}

	assert.Equal(t, "abcd", got.String())
	// Four frames and end-of-stream take MaxUint32-1 through 2.
	assert.Equal(t, uint32(3), receiver.expectSeq)
	assert.Equal(t, uint32(3), sender.nextSeq)
}

func TestCloseAbortsReceive(t *testing.T) {
	a, b := listen(t), listen(t)
	receiver := New(b, a.LocalAddr(), testOptions())

	done := make(chan error, 1)
	go func() {
		_, err := receiver.Receive(make([]byte, 16))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errs.KindNetwork, errs.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after close")
	}
}

func TestSendValidation(t *testing.T) {
	a, b := listen(t), listen(t)
	sender := New(a, b.LocalAddr(), testOptions())

	assert.Error(t, sender.Send(nil, false, 0))
	assert.Error(t, sender.Send(make([]byte, 513), false, 0))

	receiver := New(b, a.LocalAddr(), testOptions())
	go func() {
		buf := make([]byte, 16)
		for {
			n, err := receiver.Receive(buf)
			if err != nil || n == 0 {
				return
			}
		}
	}()

	require.NoError(t, sender.End())
	assert.ErrorIs(t, sender.Send([]byte("late"), false, 0), ErrSendAfterEnd)
}

func TestShortBufferLeavesFrameUnacked(t *testing.T) {
	raw, b := listen(t), listen(t)
	receiver := New(b, raw.LocalAddr(), testOptions())

	_, err := raw.WriteTo(encodeData(1, []byte("longer than four")), b.LocalAddr())
	require.NoError(t, err)

	_, err = receiver.Receive(make([]byte, 4))
	assert.Error(t, err)
	_, ok := readAck(t, raw)
	assert.False(t, ok)
}

// Package transport is a stop-and-wait reliable stream over datagrams.
//
// A sender has at most one unacknowledged data frame in flight. Every data
// frame carries a sequence number starting at InitialSeq; the receiver
// delivers frames strictly in order, acknowledges every frame it sees
// (duplicates included) and drops anything from the future. A zero-length
// data frame marks end-of-stream.
//
// A Conn is driven by one goroutine. Timeouts are socket read deadlines and
// closing the underlying PacketConn aborts any blocked call.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"nudge/internal/constants"
	"nudge/internal/errs"
	"nudge/internal/logger"
)

// maxDatagram is large enough for any frame a peer may send, whatever chunk
// size it was configured with.
const maxDatagram = 64 * 1024

var ErrSendAfterEnd = errors.New("transport: send after end of stream")

// Tracer receives per-frame events such as retransmissions and timeouts.
type Tracer interface {
	Trace(event string, seq uint32, size int, err error)
}

type Options struct {
	ChunkSize   int
	InitialRTO  time.Duration
	MinRTO      time.Duration
	MaxRTO      time.Duration
	MaxRetries  int
	IdleTimeout time.Duration
	Tracer      Tracer
	// Foreign sees datagrams from sources other than the peer. A non-nil
	// error aborts the blocked call and is returned unchanged.
	Foreign func(from net.Addr, data []byte) error
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:   constants.DefaultChunkSize,
		InitialRTO:  constants.InitialRTO,
		MinRTO:      constants.MinRTO,
		MaxRTO:      constants.MaxRTO,
		MaxRetries:  constants.MaxRetries,
		IdleTimeout: constants.IdleTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.InitialRTO <= 0 {
		o.InitialRTO = d.InitialRTO
	}
	if o.MinRTO <= 0 {
		o.MinRTO = d.MinRTO
	}
	if o.MaxRTO <= 0 {
		o.MaxRTO = d.MaxRTO
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	return o
}

type Stats struct {
	FramesSent    int64
	Retransmits   int64
	Duplicates    int64
	BytesSent     int64
	BytesReceived int64
}

// foreignError carries an error raised by Options.Foreign through the read
// path without being reclassified as a network failure.
type foreignError struct{ err error }

func (e *foreignError) Error() string { return e.err.Error() }
func (e *foreignError) Unwrap() error { return e.err }

type pending struct {
	seq     uint32
	frame   []byte
	size    int
	sentAt  time.Time
	retries int
}

type Conn struct {
	pc   net.PacketConn
	peer net.Addr
	opts Options
	rtt  *rttEstimator
	log  zerolog.Logger

	nextSeq     uint32
	outstanding *pending
	endSeq      uint32
	endSent     bool

	expectSeq uint32
	eof       bool

	readBuf []byte

	framesSent    int64
	retransmits   int64
	duplicates    int64
	bytesSent     int64
	bytesReceived int64
}

// New wraps pc for a stream with peer. Datagrams from any other source are
// ignored unless opts.Foreign is set.
func New(pc net.PacketConn, peer net.Addr, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		pc:        pc,
		peer:      peer,
		opts:      opts,
		rtt:       newRTTEstimator(opts.InitialRTO, opts.MinRTO, opts.MaxRTO),
		log:       logger.Component("transport").With().Str("peer", peer.String()).Logger(),
		nextSeq:   InitialSeq,
		expectSeq: InitialSeq,
		readBuf:   make([]byte, maxDatagram),
	}
}

func (c *Conn) Peer() net.Addr {
	return c.peer
}

func (c *Conn) Stats() Stats {
	return Stats{
		FramesSent:    atomic.LoadInt64(&c.framesSent),
		Retransmits:   atomic.LoadInt64(&c.retransmits),
		Duplicates:    atomic.LoadInt64(&c.duplicates),
		BytesSent:     atomic.LoadInt64(&c.bytesSent),
		BytesReceived: atomic.LoadInt64(&c.bytesReceived),
	}
}

// RTO is the current retransmission timeout.
func (c *Conn) RTO() time.Duration {
	return c.rtt.RTO()
}

// Punch sends one hello datagram so a NAT in front of us opens a mapping
// toward the peer. Peers ignore hellos.
func (c *Conn) Punch() error {
	if _, err := c.pc.WriteTo(encodeHello(), c.peer); err != nil {
		return errs.E(errs.KindNetwork, "punch", err)
	}
	return nil
}

// Send transmits data as the next frame, after pace has elapsed and the
// previous frame is acknowledged. With requireAck it also waits for this
// frame's acknowledgment; otherwise that wait happens on the next Send,
// Flush or End. Either way at most one frame is unacknowledged.
func (c *Conn) Send(data []byte, requireAck bool, pace time.Duration) error {
	if len(data) == 0 {
		return errors.New("transport: empty payload")
	}
	if len(data) > c.opts.ChunkSize {
		return fmt.Errorf("transport: payload of %d bytes exceeds chunk size %d", len(data), c.opts.ChunkSize)
	}
	if c.endSent {
		return ErrSendAfterEnd
	}

	if err := c.Flush(); err != nil {
		return err
	}
	if pace > 0 {
		time.Sleep(pace)
	}

	p := &pending{seq: c.nextSeq, frame: encodeData(c.nextSeq, data), size: len(data)}
	c.nextSeq++
	c.outstanding = p
	c.transmit(p)
	atomic.AddInt64(&c.bytesSent, int64(len(data)))

	if requireAck {
		return c.Flush()
	}
	return nil
}

// Flush waits for the outstanding frame, if any, to be acknowledged,
// retransmitting it with exponential back-off.
func (c *Conn) Flush() error {
	p := c.outstanding
	if p == nil {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.rtt.RTO()
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.opts.MaxRTO
	b.MaxElapsedTime = 0
	b.Reset()

	wait := b.NextBackOff()
	for {
		acked, err := c.awaitAck(p.seq, time.Now().Add(wait))
		if err != nil {
			return readErr("await ack", err)
		}
		if acked {
			// Karn: a retransmitted frame's ACK is ambiguous.
			if p.retries == 0 {
				c.rtt.update(time.Since(p.sentAt))
			}
			c.outstanding = nil
			return nil
		}

		if p.retries >= c.opts.MaxRetries {
			c.trace("timeout", p.seq, p.size, errs.ErrTransportTimeout)
			return errs.E(errs.KindTransportTimeout, "send",
				fmt.Errorf("frame %d unacknowledged after %d retransmissions: %w", p.seq, p.retries, errs.ErrTransportTimeout))
		}

		p.retries++
		atomic.AddInt64(&c.retransmits, 1)
		c.trace("retransmit", p.seq, p.size, nil)
		c.log.Debug().Uint32("seq", p.seq).Int("attempt", p.retries).Dur("wait", wait).Msg("retransmitting frame")
		c.transmit(p)
		wait = b.NextBackOff()
	}
}

// End flushes, then sends end-of-stream and waits for its acknowledgment.
// Calling End again resends the same end-of-stream frame.
func (c *Conn) End() error {
	if err := c.Flush(); err != nil {
		return err
	}

	if !c.endSent {
		c.endSeq = c.nextSeq
		c.nextSeq++
		c.endSent = true
	}

	p := &pending{seq: c.endSeq, frame: encodeData(c.endSeq, nil)}
	c.outstanding = p
	c.transmit(p)
	c.trace("eos_sent", p.seq, 0, nil)
	return c.Flush()
}

// Receive blocks for the next in-order frame and copies its payload into
// buf. It returns 0, nil at end-of-stream and on every call after it.
func (c *Conn) Receive(buf []byte) (int, error) {
	if c.eof {
		return 0, nil
	}

	var deadline time.Time
	if c.opts.IdleTimeout > 0 {
		deadline = time.Now().Add(c.opts.IdleTimeout)
	}

	for {
		f, err := c.readFrame(deadline)
		if err != nil {
			if isTimeout(err) {
				c.trace("timeout", c.expectSeq, 0, errs.ErrTransportTimeout)
				return 0, errs.E(errs.KindTransportTimeout, "receive",
					fmt.Errorf("no frame %d within %s: %w", c.expectSeq, c.opts.IdleTimeout, errs.ErrTransportTimeout))
			}
			return 0, readErr("receive", err)
		}
		if f.kind != kindData {
			continue
		}

		switch {
		case f.seq == c.expectSeq:
			if len(f.payload) > len(buf) {
				return 0, io.ErrShortBuffer
			}
			n := copy(buf, f.payload)
			c.sendAck(f.seq)
			c.expectSeq++
			if n == 0 {
				c.eof = true
				c.trace("eos_received", f.seq, 0, nil)
				return 0, nil
			}
			atomic.AddInt64(&c.bytesReceived, int64(n))
			return n, nil
		case seqBefore(f.seq, c.expectSeq):
			// Our ACK was lost; the sender is still waiting for it.
			atomic.AddInt64(&c.duplicates, 1)
			c.trace("duplicate", f.seq, len(f.payload), nil)
			c.sendAck(f.seq)
		default:
			c.trace("ahead", f.seq, len(f.payload), nil)
		}
	}
}

// Linger keeps acknowledging retransmitted frames for d after the stream
// ended, so a sender whose end-of-stream ACK was lost can still finish.
func (c *Conn) Linger(d time.Duration) error {
	if d <= 0 {
		return nil
	}

	deadline := time.Now().Add(d)
	for {
		f, err := c.readFrame(deadline)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return readErr("linger", err)
		}
		if f.kind == kindData && seqBefore(f.seq, c.expectSeq) {
			atomic.AddInt64(&c.duplicates, 1)
			c.sendAck(f.seq)
		}
	}
}

func (c *Conn) transmit(p *pending) {
	p.sentAt = time.Now()
	atomic.AddInt64(&c.framesSent, 1)
	if _, err := c.pc.WriteTo(p.frame, c.peer); err != nil {
		// Treated like a lost frame; the retransmission budget covers it.
		c.trace("write_error", p.seq, p.size, err)
		c.log.Debug().Err(err).Uint32("seq", p.seq).Msg("write failed")
	}
}

func (c *Conn) sendAck(seq uint32) {
	if _, err := c.pc.WriteTo(encodeAck(seq), c.peer); err != nil {
		c.trace("write_error", seq, 0, err)
	}
}

func (c *Conn) awaitAck(seq uint32, deadline time.Time) (bool, error) {
	for {
		f, err := c.readFrame(deadline)
		if err != nil {
			if isTimeout(err) {
				return false, nil
			}
			return false, err
		}
		if f.kind == kindAck && f.seq == seq {
			return true, nil
		}
	}
}

// readFrame returns the next well-formed frame from the peer. The payload
// aliases c.readBuf and is only valid until the next read.
func (c *Conn) readFrame(deadline time.Time) (frame, error) {
	if err := c.pc.SetReadDeadline(deadline); err != nil {
		return frame{}, err
	}

	for {
		n, addr, err := c.pc.ReadFrom(c.readBuf)
		if err != nil {
			return frame{}, err
		}
		if !sameAddr(addr, c.peer) {
			if c.opts.Foreign != nil {
				if err := c.opts.Foreign(addr, c.readBuf[:n]); err != nil {
					return frame{}, &foreignError{err}
				}
			}
			continue
		}
		f, err := decodeFrame(c.readBuf[:n])
		if err != nil {
			c.trace("bad_frame", 0, n, err)
			continue
		}
		return f, nil
	}
}

func readErr(op string, err error) error {
	var fe *foreignError
	if errors.As(err, &fe) {
		return fe.err
	}
	return errs.E(errs.KindNetwork, op, err)
}

func (c *Conn) trace(event string, seq uint32, size int, err error) {
	if c.opts.Tracer != nil {
		c.opts.Tracer.Trace(event, seq, size, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}

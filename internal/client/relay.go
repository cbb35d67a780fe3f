package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"nudge/internal/constants"
	"nudge/internal/errs"
	"nudge/internal/logger"
	"nudge/internal/protocol"
)

// RelayClient speaks the rendezvous protocol over the peer's own socket.
// The same socket later carries the transfer, so the address the relay
// observed is the address the other peer will talk to.
type RelayClient struct {
	pc      net.PacketConn
	relay   net.Addr
	timeout time.Duration
	buf     []byte
	log     zerolog.Logger
}

// DialRelay binds an ephemeral UDP socket and resolves the relay address.
func DialRelay(host string, port int, timeout time.Duration) (*RelayClient, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errs.E(errs.KindNetwork, "resolve relay", err)
	}

	network := "udp4"
	if addr.IP.To4() == nil {
		network = "udp6"
	}
	pc, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, errs.E(errs.KindNetwork, "bind", err)
	}

	return NewRelayClient(pc, addr, timeout), nil
}

func NewRelayClient(pc net.PacketConn, relay net.Addr, timeout time.Duration) *RelayClient {
	if timeout <= 0 {
		timeout = constants.ControlTimeout
	}
	return &RelayClient{
		pc:      pc,
		relay:   relay,
		timeout: timeout,
		buf:     make([]byte, constants.ControlBufferSize),
		log:     logger.Component("relay-client").With().Str("relay", relay.String()).Logger(),
	}
}

// Conn is the socket shared by the rendezvous and the transfer.
func (rc *RelayClient) Conn() net.PacketConn {
	return rc.pc
}

func (rc *RelayClient) Close() error {
	return rc.pc.Close()
}

// Register announces a file and returns the passphrase the relay assigned.
// It is sent once: a retry could register the same file twice.
func (rc *RelayClient) Register(ctx context.Context, req *protocol.RequestPassphrase) (string, error) {
	defer rc.closeOnCancel(ctx)()

	if err := rc.send(req); err != nil {
		return "", err
	}
	m, err := rc.await(time.Now().Add(rc.timeout), protocol.TagPassphraseMessage)
	if err != nil {
		return "", rc.wrap(ctx, "register", err)
	}
	return m.(*protocol.PassphraseMessage).Passphrase, nil
}

// Lookup fetches the pending transfer for passphrase. Lookups do not change
// relay state, so lost datagrams are retried with back-off.
func (rc *RelayClient) Lookup(ctx context.Context, passphrase string) (*protocol.FileInfo, error) {
	defer rc.closeOnCancel(ctx)()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0

	var info *protocol.FileInfo
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err := rc.send(&protocol.RequestFileInfo{Passphrase: passphrase}); err != nil {
			return backoff.Permanent(err)
		}
		m, err := rc.await(time.Now().Add(rc.timeout), protocol.TagFileInfo)
		if err != nil {
			if errs.KindOf(err) == errs.KindTransportTimeout {
				rc.log.Debug().Msg("lookup timed out, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		info = m.(*protocol.FileInfo)
		return nil
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(b, 2)); err != nil {
		return nil, rc.wrap(ctx, "lookup", err)
	}
	return info, nil
}

// RequestConnect confirms the transfer. The relay only answers failures, so
// silence for ConfirmGrace counts as acceptance.
func (rc *RelayClient) RequestConnect(ctx context.Context, req *protocol.RequestConnect) error {
	defer rc.closeOnCancel(ctx)()

	if err := rc.send(req); err != nil {
		return err
	}
	_, err := rc.await(time.Now().Add(constants.ConfirmGrace), protocol.TagError)
	if errs.KindOf(err) == errs.KindTransportTimeout {
		return nil
	}
	if err != nil {
		return rc.wrap(ctx, "confirm", err)
	}
	return nil
}

// AwaitConnect blocks until the relay introduces a receiver or ctx ends.
func (rc *RelayClient) AwaitConnect(ctx context.Context) (*protocol.SenderConnect, error) {
	defer rc.closeOnCancel(ctx)()

	m, err := rc.await(time.Time{}, protocol.TagSenderConnect)
	if err != nil {
		return nil, rc.wrap(ctx, "await receiver", err)
	}
	return m.(*protocol.SenderConnect), nil
}

func (rc *RelayClient) send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if _, err := rc.pc.WriteTo(data, rc.relay); err != nil {
		return errs.E(errs.KindNetwork, "send "+m.Tag().String(), err)
	}
	return nil
}

// await reads until a message tagged want arrives from the relay. An error
// reply ends the wait; anything else, including datagrams from other
// sources, is skipped.
func (rc *RelayClient) await(deadline time.Time, want protocol.Tag) (protocol.Message, error) {
	if err := rc.pc.SetReadDeadline(deadline); err != nil {
		return nil, errs.E(errs.KindNetwork, "set deadline", err)
	}
	defer rc.pc.SetReadDeadline(time.Time{})

	for {
		n, from, err := rc.pc.ReadFrom(rc.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, errs.E(errs.KindTransportTimeout, "await "+want.String(), errs.ErrTransportTimeout)
			}
			return nil, errs.E(errs.KindNetwork, "await "+want.String(), err)
		}
		if !sameAddr(from, rc.relay) {
			continue
		}

		m, err := protocol.Decode(rc.buf[:n])
		if err != nil {
			rc.log.Warn().Err(err).Msg("undecodable relay reply")
			continue
		}

		if e, ok := m.(*protocol.ErrorMessage); ok {
			if want == protocol.TagError {
				return m, protocol.RemoteError(e)
			}
			return nil, protocol.RemoteError(e)
		}
		if m.Tag() == want {
			return m, nil
		}
		rc.log.Debug().Stringer("tag", m.Tag()).Stringer("want", want).Msg("ignoring relay message")
	}
}

// Rejection reports an error reply from the relay that arrives once the
// socket has been handed to the transport. Other datagrams pass.
func (rc *RelayClient) Rejection(from net.Addr, data []byte) error {
	if !sameAddr(from, rc.relay) {
		return nil
	}
	m, err := protocol.Decode(data)
	if err != nil {
		return nil
	}
	if e, ok := m.(*protocol.ErrorMessage); ok {
		return protocol.RemoteError(e)
	}
	return nil
}

func (rc *RelayClient) closeOnCancel(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { rc.pc.Close() })
}

func (rc *RelayClient) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := err.(*errs.Error); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}

// Package server is the rendezvous relay. It keeps pending transfers keyed
// by passphrase, tells a receiver what it is about to get, and introduces
// the two peers once the receiver confirms. File bytes never pass through it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nudge/internal/config"
	"nudge/internal/constants"
	"nudge/internal/dashboard"
	"nudge/internal/discovery"
	"nudge/internal/errs"
	"nudge/internal/logger"
	"nudge/internal/passphrase"
	"nudge/internal/protocol"
	"nudge/internal/security"
	"nudge/internal/session"
)

// Generator produces candidate passphrases.
type Generator interface {
	Generate() (string, error)
}

type counters struct {
	registered atomic.Uint64
	lookups    atomic.Uint64
	confirmed  atomic.Uint64
	rejected   atomic.Uint64
	malformed  atomic.Uint64
	expired    atomic.Uint64
}

// Stats is a snapshot of the relay counters.
type Stats struct {
	Pending    int    `json:"pending"`
	Registered uint64 `json:"registered"`
	Lookups    uint64 `json:"lookups"`
	Confirmed  uint64 `json:"confirmed"`
	Rejected   uint64 `json:"rejected"`
	Malformed  uint64 `json:"malformed"`
	Expired    uint64 `json:"expired"`
	Uptime     string `json:"uptime"`
}

type Server struct {
	Store          session.StoreInterface
	Generator      Generator
	Config         config.Relay
	BruteProtector *security.BruteForceProtector
	AuditLogger    *security.AuditLogger
	Dashboard      *dashboard.Dashboard

	log     zerolog.Logger
	stats   counters
	started time.Time
	now     func() time.Time
}

type Option func(*Server)

func WithStore(store session.StoreInterface) Option {
	return func(s *Server) { s.Store = store }
}

func WithGenerator(g Generator) Option {
	return func(s *Server) { s.Generator = g }
}

func WithAuditLogger(al *security.AuditLogger) Option {
	return func(s *Server) { s.AuditLogger = al }
}

func NewServer(cfg config.Relay, opts ...Option) (*Server, error) {
	s := &Server{
		Config:  cfg,
		log:     logger.Component("relay"),
		started: time.Now(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.Store == nil {
		store, err := session.NewStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
		s.Store = store
	}

	if s.Generator == nil {
		words := cfg.PassphraseWords
		if words <= 0 {
			words = 3
		}
		s.Generator = passphrase.New(words)
	}

	if s.AuditLogger == nil {
		if cfg.Audit {
			al, err := security.NewAuditLogger(cfg.AuditDir)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to initialize audit logger")
			}
			s.AuditLogger = al
		}
		if s.AuditLogger == nil {
			s.AuditLogger = security.NewEventLogger()
		}
	}

	s.BruteProtector = security.NewBruteForceProtector(cfg.MaxFailedAttempts, cfg.BlockDuration)
	s.Dashboard = dashboard.New()
	s.AuditLogger.AddSink(s.Dashboard.Publish)

	s.Store.OnExpire(func(p session.Passphrase) {
		s.stats.expired.Add(1)
		s.AuditLogger.LogExpire(session.Fingerprint(p))
		s.log.Info().Str("transfer", session.Fingerprint(p)).Msg("pending transfer expired")
	})

	return s, nil
}

// RegisterTransfer stores a pending transfer under a fresh passphrase. The
// sender address is the observed datagram source, never a payload field.
func (s *Server) RegisterTransfer(observed net.Addr, req protocol.RequestPassphrase) (session.Passphrase, error) {
	const op = "register transfer"

	now := s.now()
	rec := &session.TransferRecord{
		FileInfo: protocol.FileInfo{
			FileName:   req.FileName,
			FileSize:   req.FileSize,
			FileHash:   req.FileHash,
			CreatedAt:  now.UnixMilli(),
			SenderHost: req.SenderHost,
			SenderAddr: observed.String(),
		},
	}
	if s.Config.SessionTTL > 0 {
		rec.ExpiresAt = now.Add(s.Config.SessionTTL)
	}

	attempts := s.Config.MaxGenerateAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		word, err := s.Generator.Generate()
		if err != nil {
			return "", errs.E(errs.KindPassphraseGeneration, op, fmt.Errorf("%w: %v", errs.ErrPassphraseGeneration, err))
		}

		p := session.Passphrase(word)
		err = s.Store.Insert(p, rec)
		if err == nil {
			s.stats.registered.Add(1)
			return p, nil
		}
		if !errors.Is(err, session.ErrPassphraseTaken) {
			return "", errs.E(errs.KindUnknown, op, err)
		}
		s.log.Debug().Int("attempt", i+1).Msg("passphrase collision, regenerating")
	}

	return "", errs.E(errs.KindPassphraseGeneration, op, errs.ErrPassphraseGeneration)
}

// LookupTransfer returns the pending transfer without changing it.
func (s *Server) LookupTransfer(p session.Passphrase) (protocol.FileInfo, error) {
	s.stats.lookups.Add(1)
	rec, ok := s.Store.Get(p)
	if !ok {
		return protocol.FileInfo{}, errs.E(errs.KindPassphraseNotFound, "lookup transfer", errs.ErrPassphraseNotFound)
	}
	return rec.FileInfo, nil
}

// ConfirmAndConnect consumes the pending transfer if claimedHash matches and
// returns the introduction for the sender plus the sender's address. A
// missing record and a hash mismatch are indistinguishable, and neither
// touches the record.
func (s *Server) ConfirmAndConnect(p session.Passphrase, receiverHost *string, receiverAddr net.Addr, claimedHash *string) (protocol.SenderConnect, net.Addr, error) {
	const op = "confirm transfer"

	rec, ok := s.Store.Consume(p, claimedHash)
	if !ok {
		s.stats.rejected.Add(1)
		return protocol.SenderConnect{}, nil, errs.E(errs.KindPassphraseNotFound, op, errs.ErrPassphraseNotFound)
	}

	senderAddr, err := net.ResolveUDPAddr("udp", rec.SenderAddr)
	if err != nil {
		return protocol.SenderConnect{}, nil, errs.E(errs.KindNetwork, op, fmt.Errorf("sender address %q: %w", rec.SenderAddr, err))
	}

	s.stats.confirmed.Add(1)
	return protocol.SenderConnect{
		ReceiverAddr: receiverAddr.String(),
		ReceiverHost: receiverHost,
	}, senderAddr, nil
}

func (s *Server) Stats() Stats {
	return Stats{
		Pending:    s.Store.Len(),
		Registered: s.stats.registered.Load(),
		Lookups:    s.stats.lookups.Load(),
		Confirmed:  s.stats.confirmed.Load(),
		Rejected:   s.stats.rejected.Load(),
		Malformed:  s.stats.malformed.Load(),
		Expired:    s.stats.expired.Load(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	}
}

// Serve runs the control loop on pc until ctx is cancelled. Each datagram
// is handled to completion before the next is read. pc is closed on return.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()
	defer pc.Close()

	s.log.Info().Str("addr", pc.LocalAddr().String()).Msg("relay listening")

	buf := make([]byte, constants.ControlBufferSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("control read failed")
			continue
		}
		s.handle(pc, addr, buf[:n])
	}
}

// ListenAndServe binds the configured UDP address and serves on it.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.Config.Host, strconv.Itoa(s.Config.Port))
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return errs.E(errs.KindNetwork, "listen", err)
	}
	return s.Serve(ctx, pc)
}

// Run serves until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return s.RunContext(ctx)
}

// RunContext serves until ctx ends, together with the status endpoint and
// LAN advertisement when configured.
func (s *Server) RunContext(ctx context.Context) error {
	defer s.Cleanup()

	if s.Config.StatusAddr != "" {
		status := s.NewStatusServer(s.Config.StatusAddr)
		go func() {
			if err := status.Run(ctx); err != nil {
				s.log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	if s.Config.Advertise {
		adv, err := discovery.Advertise("", s.Config.Port)
		if err != nil {
			s.log.Warn().Err(err).Msg("lan advertisement disabled")
		} else {
			defer adv.Shutdown()
		}
	}

	err := s.ListenAndServe(ctx)
	s.log.Info().Msg("relay stopped")
	return err
}

func (s *Server) Cleanup() {
	s.Dashboard.Close()
	s.BruteProtector.Close()
	if err := s.Store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing session store")
	}
	if err := s.AuditLogger.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing audit log")
	}
}

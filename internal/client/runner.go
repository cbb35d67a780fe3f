package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"nudge/internal/config"
	"nudge/internal/logger"
	"nudge/internal/transport"
)

var ErrCancelled = errors.New("cancelled by user")

// progressEvery is roughly 25 KiB worth of frames.
const progressEvery = 25 * 1024

// Result describes a finished transfer.
type Result struct {
	TransferID string
	FileName   string
	Path       string
	Bytes      uint64
	Elapsed    time.Duration
	Peer       string
	PeerHost   string
	Stats      transport.Stats
	LogPath    string
}

// Settings are shared by both peers.
type Settings struct {
	Peer      config.Peer
	Transport config.Transport
	// NoTransferLog disables the per-transfer JSON event file.
	NoTransferLog bool
}

func (s Settings) transportOptions(tracer transport.Tracer) transport.Options {
	return transport.Options{
		ChunkSize:   s.Peer.ChunkSize,
		InitialRTO:  s.Transport.InitialRTO,
		MinRTO:      s.Transport.MinRTO,
		MaxRTO:      s.Transport.MaxRTO,
		MaxRetries:  s.Transport.MaxRetries,
		IdleTimeout: s.Transport.IdleTimeout,
		Tracer:      tracer,
	}
}

// openTransferLog starts the event file for a new transfer. A log that
// cannot be opened only costs the trace.
func (s Settings) openTransferLog() (string, *logger.TransferLog) {
	id := uuid.New().String()
	if s.NoTransferLog {
		return id, nil
	}
	tl, err := logger.NewTransferLog(s.Peer.LogDir, id)
	if err != nil {
		log := logger.Component("client")
		log.Warn().Err(err).Msg("transfer log disabled")
		return id, nil
	}
	return id, tl
}

func tracerFor(tl *logger.TransferLog) transport.Tracer {
	if tl == nil {
		return nil
	}
	return tl
}

func framesPerUpdate(chunkSize int) int {
	if chunkSize <= 0 || chunkSize >= progressEvery {
		return 1
	}
	return progressEvery / chunkSize
}

// contextErr prefers the cancellation cause over the socket error it caused.
func contextErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"nudge/internal/constants"
	"nudge/internal/errs"
	"nudge/internal/logger"
	"nudge/internal/protocol"
	"nudge/internal/security"
	"nudge/internal/transport"
	"nudge/internal/utils"
)

type Receiver struct {
	Relay    *RelayClient
	Settings Settings
	UI       *UI
	// Force skips the download confirmation.
	Force bool
}

// Run looks up passphrase, confirms the transfer and writes the file to
// outPath. An empty outPath uses the sender's file name in the working
// directory.
func (r *Receiver) Run(ctx context.Context, passphrase, outPath string) (*Result, error) {
	log := logger.Component("receiver")
	u := r.UI
	if u == nil {
		u = NewUI(nil, nil)
	}
	peer := r.Settings.Peer

	info, err := r.Relay.Lookup(ctx, passphrase)
	if err != nil {
		return nil, err
	}

	senderHost := protocol.Deref(info.SenderHost, "anonymous")
	u.Success(fmt.Sprintf("Meta: %s by %s [%s]", u.Yellow(info.FileName), u.Cyan(senderHost), utils.FormatBytes(info.FileSize)))
	if info.FileHash == nil {
		u.Hint("sender skipped hashing; the file will not be verified")
	}

	if !r.Force && !u.Confirm("Do you want to download the file?") {
		u.Hint("Cancelled by user.")
		return nil, ErrCancelled
	}

	if outPath == "" {
		outPath = security.SanitizeFileName(info.FileName, "download")
	}

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.E(errs.KindFileSystem, "create", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(info.FileSize)); err != nil {
		return nil, errs.E(errs.KindFileSystem, "allocate", err)
	}

	host, err := utils.HostLabel(peer.HideHostname)
	if err != nil {
		return nil, err
	}

	err = r.Relay.RequestConnect(ctx, &protocol.RequestConnect{
		Passphrase:   passphrase,
		FileHash:     info.FileHash,
		ReceiverHost: host,
	})
	if err != nil {
		return nil, err
	}

	senderAddr, err := net.ResolveUDPAddr("udp", info.SenderAddr)
	if err != nil {
		return nil, errs.E(errs.KindProtocol, "sender address", err)
	}
	u.Step(fmt.Sprintf("Connecting to %s %s...", u.Cyan(senderHost), u.Dim("("+info.SenderAddr+")")))

	id, tl := r.Settings.openTransferLog()
	defer tl.Close()
	tl.SetRemote(info.SenderAddr)
	tl.LogEvent("receiving " + info.FileName)

	pc := r.Relay.Conn()
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	// The relay may still reject the confirmation after the grace period.
	opts := r.Settings.transportOptions(tracerFor(tl))
	opts.Foreign = r.Relay.Rejection
	conn := transport.New(pc, senderAddr, opts)
	if err := conn.Punch(); err != nil {
		log.Debug().Err(err).Msg("punch failed")
	}

	u.Step(fmt.Sprintf("Receiving %s %s...", utils.FormatBytes(info.FileSize), u.Dim(fmt.Sprintf("(chunk-size: %d)", peer.ChunkSize))))
	bar := u.Progress(info.FileSize, "receiving")

	w := bufio.NewWriterSize(f, 64*1024)
	buf := make([]byte, constants.MaxChunkSize)
	every := framesPerUpdate(peer.ChunkSize)

	start := time.Now()
	var received uint64
	frames := 0
	for {
		n, err := conn.Receive(buf)
		if err != nil {
			tl.LogError(err)
			return nil, contextErr(ctx, err)
		}
		if n == 0 {
			break
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return nil, errs.E(errs.KindFileSystem, "write", err)
		}
		received += uint64(n)
		frames++
		if frames%every == 0 {
			bar.Set64(int64(received))
		}
	}
	if err := w.Flush(); err != nil {
		return nil, errs.E(errs.KindFileSystem, "write", err)
	}
	bar.Set64(int64(received))
	bar.Finish()
	elapsed := time.Since(start)

	if err := conn.Linger(r.Settings.Transport.Linger); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Msg("linger ended early")
	}

	if received != info.FileSize {
		err := errs.E(errs.KindIntegrity, "receive",
			fmt.Errorf("got %d of %d bytes: %w", received, info.FileSize, errs.ErrIntegrity))
		tl.LogError(err)
		return nil, err
	}

	if info.FileHash != nil {
		u.Step("Verifying...")
		sum, err := utils.HashFile(f)
		if err != nil {
			return nil, errs.E(errs.KindFileSystem, "hash", err)
		}
		if sum != *info.FileHash {
			err := errs.E(errs.KindIntegrity, "verify", errs.ErrIntegrity)
			tl.LogError(err)
			return nil, err
		}
	}

	u.Success(fmt.Sprintf("File received successfully in %s! %s", utils.FormatDuration(elapsed), u.Dim(utils.FormatRate(received, elapsed))))
	tl.LogEvent(fmt.Sprintf("received %d bytes in %s", received, elapsed))

	return &Result{
		TransferID: id,
		FileName:   info.FileName,
		Path:       outPath,
		Bytes:      received,
		Elapsed:    elapsed,
		Peer:       info.SenderAddr,
		PeerHost:   senderHost,
		Stats:      conn.Stats(),
		LogPath:    tl.Path(),
	}, nil
}

// IsCancelled reports whether err means the user declined the transfer.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"nudge/internal/errs"
	"nudge/internal/logger"
	"nudge/internal/protocol"
	"nudge/internal/transport"
	"nudge/internal/utils"
)

type Sender struct {
	Relay    *RelayClient
	Settings Settings
	UI       *UI
	// QR additionally prints the passphrase as a QR code.
	QR bool
	// OnPassphrase is called once the relay has assigned the passphrase.
	OnPassphrase func(string)
}

// Run registers path with the relay, waits for a receiver and streams the
// file to it.
func (s *Sender) Run(ctx context.Context, path string) (*Result, error) {
	log := logger.Component("sender")
	u := s.UI
	if u == nil {
		u = NewUI(nil, nil)
	}
	peer := s.Settings.Peer

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.E(errs.KindFileSystem, "open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.E(errs.KindFileSystem, "stat", err)
	}
	if info.IsDir() {
		return nil, errs.E(errs.KindFileSystem, "open", fmt.Errorf("%s is a directory", path))
	}
	size := uint64(info.Size())

	var hash *string
	if !peer.SkipHash {
		u.Step("Hashing " + u.Yellow(info.Name()) + "...")
		sum, err := utils.HashFile(f)
		if err != nil {
			return nil, errs.E(errs.KindFileSystem, "hash", err)
		}
		hash = &sum
	}

	host, err := utils.HostLabel(peer.HideHostname)
	if err != nil {
		return nil, err
	}

	passphrase, err := s.Relay.Register(ctx, &protocol.RequestPassphrase{
		SenderHost: host,
		FileSize:   size,
		FileHash:   hash,
		FileName:   filepath.Base(path),
	})
	if err != nil {
		return nil, err
	}

	u.Success("Passphrase: " + u.Cyan(passphrase))
	if s.QR {
		if err := u.QR(passphrase); err != nil {
			log.Warn().Err(err).Msg("qr code unavailable")
		}
	}
	u.Hint(fmt.Sprintf("receive with: nudge get %s -o %s", passphrase, filepath.Base(path)))
	if s.OnPassphrase != nil {
		s.OnPassphrase(passphrase)
	}

	u.Step("Waiting for the receiver...")
	scon, err := s.Relay.AwaitConnect(ctx)
	if err != nil {
		return nil, err
	}
	receiverAddr, err := net.ResolveUDPAddr("udp", scon.ReceiverAddr)
	if err != nil {
		return nil, errs.E(errs.KindProtocol, "receiver address", err)
	}

	peerHost := protocol.Deref(scon.ReceiverHost, "anonymous")
	u.Step(fmt.Sprintf("Connecting to peer %s %s...", u.Cyan(peerHost), u.Dim("("+scon.ReceiverAddr+")")))

	id, tl := s.Settings.openTransferLog()
	defer tl.Close()
	tl.SetRemote(scon.ReceiverAddr)
	tl.LogEvent("sending " + info.Name())

	pc := s.Relay.Conn()
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	conn := transport.New(pc, receiverAddr, s.Settings.transportOptions(tracerFor(tl)))
	if err := conn.Punch(); err != nil {
		log.Debug().Err(err).Msg("punch failed")
	}

	u.Step(fmt.Sprintf("Sending %s %s...", utils.FormatBytes(size), u.Dim(fmt.Sprintf("(chunk-size: %d)", peer.ChunkSize))))
	bar := u.Progress(size, "sending")

	buf := make([]byte, peer.ChunkSize)
	every := framesPerUpdate(peer.ChunkSize)
	pace := peer.PaceDelay()

	start := time.Now()
	var sent uint64
	frames := 0
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if err := conn.Send(buf[:n], false, pace); err != nil {
				tl.LogError(err)
				return nil, contextErr(ctx, err)
			}
			sent += uint64(n)
			frames++
			if frames%every == 0 {
				bar.Set64(int64(sent))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errs.E(errs.KindFileSystem, "read", rerr)
		}
	}

	if err := conn.Flush(); err != nil {
		tl.LogError(err)
		return nil, contextErr(ctx, err)
	}
	bar.Set64(int64(sent))
	bar.Finish()

	if err := conn.End(); err != nil {
		// Every data frame is acknowledged; only the end marker is in doubt.
		log.Warn().Err(err).Msg("end of stream not acknowledged")
		tl.LogError(err)
	}

	elapsed := time.Since(start)
	u.Success(fmt.Sprintf("File sent successfully in %s! %s", utils.FormatDuration(elapsed), u.Dim(utils.FormatRate(sent, elapsed))))

	tl.LogEvent(fmt.Sprintf("sent %d bytes in %s", sent, elapsed))

	return &Result{
		TransferID: id,
		FileName:   info.Name(),
		Path:       path,
		Bytes:      sent,
		Elapsed:    elapsed,
		Peer:       scon.ReceiverAddr,
		PeerHost:   peerHost,
		Stats:      conn.Stats(),
		LogPath:    tl.Path(),
	}, nil
}

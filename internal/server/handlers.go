package server

import (
	"errors"
	"net"

	"nudge/internal/errs"
	"nudge/internal/protocol"
	"nudge/internal/security"
	"nudge/internal/session"
)

func (s *Server) handle(pc net.PacketConn, addr net.Addr, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("from", addr.String()).Msg("request handler panicked")
		}
	}()

	clientIP := security.AddrIP(addr)

	msg, err := protocol.Decode(data)
	if err != nil {
		s.stats.malformed.Add(1)
		s.log.Warn().Err(err).Str("from", addr.String()).Msg("malformed request")
		s.AuditLogger.LogInvalidRequest(clientIP, err.Error())
		s.replyError(pc, addr, errs.ErrMalformedPayload)
		return
	}

	switch m := msg.(type) {
	case *protocol.RequestPassphrase:
		s.handleRegister(pc, addr, m)
	case *protocol.RequestFileInfo:
		s.handleLookup(pc, addr, m)
	case *protocol.RequestConnect:
		s.handleConnect(pc, addr, m)
	case *protocol.PassphraseMessage, *protocol.FileInfo, *protocol.SenderConnect, *protocol.ErrorMessage:
		s.log.Warn().Stringer("tag", m.Tag()).Str("from", addr.String()).Msg("relay-bound message of outbound type")
		s.AuditLogger.LogInvalidRequest(clientIP, "unexpected "+m.Tag().String())
		s.replyError(pc, addr, errs.ErrUnexpectedMessage)
	}
}

func (s *Server) handleRegister(pc net.PacketConn, addr net.Addr, m *protocol.RequestPassphrase) {
	p, err := s.RegisterTransfer(addr, *m)
	if err != nil {
		s.log.Error().Err(err).Str("from", addr.String()).Msg("registration failed")
		s.replyError(pc, addr, err)
		return
	}

	fp := session.Fingerprint(p)
	s.log.Info().
		Str("transfer", fp).
		Str("sender", addr.String()).
		Str("file", m.FileName).
		Uint64("size", m.FileSize).
		Msg("transfer registered")
	s.AuditLogger.LogRegister(security.AddrIP(addr), fp, m.FileName, m.FileSize)

	s.send(pc, addr, &protocol.PassphraseMessage{Passphrase: string(p)})
}

func (s *Server) handleLookup(pc net.PacketConn, addr net.Addr, m *protocol.RequestFileInfo) {
	clientIP := security.AddrIP(addr)
	p := session.Passphrase(m.Passphrase)
	fp := session.Fingerprint(p)

	if !s.BruteProtector.Check(clientIP) {
		s.log.Warn().Str("ip", clientIP).Msg("lookup from blocked address")
		s.replyError(pc, addr, errs.ErrPassphraseNotFound)
		return
	}

	info, err := s.LookupTransfer(p)
	if err != nil {
		s.recordMiss(clientIP, fp, "lookup of unknown passphrase")
		s.replyError(pc, addr, err)
		return
	}

	s.BruteProtector.RecordSuccess(clientIP)
	s.log.Info().Str("transfer", fp).Str("receiver", addr.String()).Msg("transfer info served")
	s.AuditLogger.LogLookup(clientIP, fp)
	s.send(pc, addr, &info)
}

func (s *Server) handleConnect(pc net.PacketConn, addr net.Addr, m *protocol.RequestConnect) {
	clientIP := security.AddrIP(addr)
	p := session.Passphrase(m.Passphrase)
	fp := session.Fingerprint(p)

	if !s.BruteProtector.Check(clientIP) {
		s.log.Warn().Str("ip", clientIP).Msg("confirmation from blocked address")
		s.replyError(pc, addr, errs.ErrPassphraseNotFound)
		return
	}

	connect, senderAddr, err := s.ConfirmAndConnect(p, m.ReceiverHost, addr, m.FileHash)
	if err != nil {
		if errors.Is(err, errs.ErrPassphraseNotFound) {
			s.recordMiss(clientIP, fp, "confirmation rejected")
		} else {
			s.log.Error().Err(err).Str("transfer", fp).Msg("confirmation failed")
		}
		s.replyError(pc, addr, err)
		return
	}

	s.BruteProtector.RecordSuccess(clientIP)
	s.log.Info().
		Str("transfer", fp).
		Str("sender", senderAddr.String()).
		Str("receiver", addr.String()).
		Msg("peers introduced")
	s.AuditLogger.LogConfirm(clientIP, fp)
	s.send(pc, senderAddr, &connect)
}

func (s *Server) recordMiss(clientIP, fp, reason string) {
	s.log.Warn().Str("ip", clientIP).Str("transfer", fp).Msg(reason)
	s.AuditLogger.LogReject(clientIP, fp, reason)
	if s.BruteProtector.RecordFailure(clientIP) {
		attempts := s.BruteProtector.Attempts(clientIP)
		s.log.Warn().Str("ip", clientIP).Int("attempts", attempts).Msg("address blocked after repeated misses")
		s.AuditLogger.LogBruteForce(clientIP, attempts)
	}
}

// replyError answers with the sentinel behind err so the peer can map it
// back with protocol.RemoteError.
func (s *Server) replyError(pc net.PacketConn, addr net.Addr, err error) {
	msg := errs.ErrUnexpectedMessage.Error()
	for _, sentinel := range []error{
		errs.ErrPassphraseNotFound,
		errs.ErrPassphraseGeneration,
		errs.ErrMalformedPayload,
		errs.ErrUnexpectedMessage,
	} {
		if errors.Is(err, sentinel) {
			msg = sentinel.Error()
			break
		}
	}
	s.send(pc, addr, &protocol.ErrorMessage{Error: msg})
}

func (s *Server) send(pc net.PacketConn, addr net.Addr, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		s.log.Error().Err(err).Stringer("tag", m.Tag()).Msg("encode reply")
		return
	}
	if _, err := pc.WriteTo(data, addr); err != nil {
		s.log.Warn().Err(err).Stringer("tag", m.Tag()).Str("to", addr.String()).Msg("send failed")
	}
}

package transport

import (
	"encoding/binary"
	"errors"
)

// Frame layout, big-endian:
//
//	data  : kind(1)=0x01 | seq(4) | len(2) | payload(len)   len == 0 marks end-of-stream
//	ack   : kind(1)=0x02 | seq(4)
//	hello : kind(1)=0x03
const (
	kindData  byte = 0x01
	kindAck   byte = 0x02
	kindHello byte = 0x03

	dataHeaderSize = 7
	ackSize        = 5
)

// InitialSeq is the first data sequence number on every connection.
const InitialSeq uint32 = 1

var errBadFrame = errors.New("bad frame")

type frame struct {
	kind    byte
	seq     uint32
	payload []byte
}

func (f frame) isEOS() bool {
	return f.kind == kindData && len(f.payload) == 0
}

func encodeData(seq uint32, payload []byte) []byte {
	buf := make([]byte, dataHeaderSize+len(payload))
	buf[0] = kindData
	binary.BigEndian.PutUint32(buf[1:5], seq)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(payload)))
	copy(buf[dataHeaderSize:], payload)
	return buf
}

func encodeAck(seq uint32) []byte {
	buf := make([]byte, ackSize)
	buf[0] = kindAck
	binary.BigEndian.PutUint32(buf[1:5], seq)
	return buf
}

func encodeHello() []byte {
	return []byte{kindHello}
}

// decodeFrame parses b. The returned payload aliases b.
func decodeFrame(b []byte) (frame, error) {
	if len(b) == 0 {
		return frame{}, errBadFrame
	}

	switch b[0] {
	case kindData:
		if len(b) < dataHeaderSize {
			return frame{}, errBadFrame
		}
		n := int(binary.BigEndian.Uint16(b[5:7]))
		if len(b) != dataHeaderSize+n {
			return frame{}, errBadFrame
		}
		return frame{kind: kindData, seq: binary.BigEndian.Uint32(b[1:5]), payload: b[dataHeaderSize:]}, nil
	case kindAck:
		if len(b) != ackSize {
			return frame{}, errBadFrame
		}
		return frame{kind: kindAck, seq: binary.BigEndian.Uint32(b[1:5])}, nil
	case kindHello:
		return frame{kind: kindHello}, nil
	}
	return frame{}, errBadFrame
}

// seqBefore reports whether a precedes b in serial-number order, so the
// comparison survives wraparound.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"nudge/internal/errs"
)

type Tag int

const (
	TagUnknown Tag = iota
	TagRequestPassphrase
	TagPassphraseMessage
	TagRequestFileInfo
	TagFileInfo
	TagRequestConnect
	TagSenderConnect
	TagError
)

var tagNames = [...]string{
	TagUnknown:           "",
	TagRequestPassphrase: "S2X_RP",
	TagPassphraseMessage: "X2S_PPM",
	TagRequestFileInfo:   "R2X_RFI",
	TagFileInfo:          "X2R_AFI",
	TagRequestConnect:    "R2X_RSC",
	TagSenderConnect:     "X2S_SCON",
	TagError:             "X2C_ERR",
}

func (t Tag) String() string {
	if t <= TagUnknown || int(t) >= len(tagNames) {
		return fmt.Sprintf("TAG(%d)", int(t))
	}
	return tagNames[t]
}

func ParseTag(s string) (Tag, error) {
	for i := TagRequestPassphrase; int(i) < len(tagNames); i++ {
		if tagNames[i] == s {
			return i, nil
		}
	}
	return TagUnknown, errs.E(errs.KindMalformedPayload, "parse tag", fmt.Errorf("unknown tag %q: %w", s, errs.ErrMalformedPayload))
}

func newMessage(t Tag) Message {
	switch t {
	case TagRequestPassphrase:
		return &RequestPassphrase{}
	case TagPassphraseMessage:
		return &PassphraseMessage{}
	case TagRequestFileInfo:
		return &RequestFileInfo{}
	case TagFileInfo:
		return &FileInfo{}
	case TagRequestConnect:
		return &RequestConnect{}
	case TagSenderConnect:
		return &SenderConnect{}
	case TagError:
		return &ErrorMessage{}
	}
	return nil
}

// Encode renders m as "TAG <json>\n".
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), err)
	}

	tag := m.Tag().String()
	buf := make([]byte, 0, len(tag)+len(payload)+2)
	buf = append(buf, tag...)
	buf = append(buf, ' ')
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	return buf, nil
}

// Decode parses one datagram. The returned Message is one of the pointer
// types in this package; callers switch on its concrete type.
func Decode(data []byte) (Message, error) {
	line := bytes.TrimRight(data, "\r\n")
	tagPart, payload, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return nil, errs.E(errs.KindMalformedPayload, "decode", fmt.Errorf("missing payload: %w", errs.ErrMalformedPayload))
	}

	tag, err := ParseTag(string(tagPart))
	if err != nil {
		return nil, err
	}

	m := newMessage(tag)
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, errs.E(errs.KindMalformedPayload, "decode "+tag.String(), fmt.Errorf("%v: %w", err, errs.ErrMalformedPayload))
	}
	return m, nil
}

// RemoteError maps an error reply onto the local sentinel it stands for.
func RemoteError(m *ErrorMessage) error {
	switch m.Error {
	case errs.ErrPassphraseNotFound.Error():
		return errs.E(errs.KindPassphraseNotFound, "relay", errs.ErrPassphraseNotFound)
	case errs.ErrPassphraseGeneration.Error():
		return errs.E(errs.KindPassphraseGeneration, "relay", errs.ErrPassphraseGeneration)
	case errs.ErrMalformedPayload.Error():
		return errs.E(errs.KindMalformedPayload, "relay", errs.ErrMalformedPayload)
	}
	return errs.E(errs.KindProtocol, "relay", fmt.Errorf("%s: %w", m.Error, errs.ErrUnexpectedMessage))
}

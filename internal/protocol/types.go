package protocol

// Message is any rendezvous payload. Optional strings are pointers so a
// hidden host label or a skipped hash travels as JSON null.
type Message interface {
	Tag() Tag
}

// RequestPassphrase registers a pending transfer (sender -> relay).
type RequestPassphrase struct {
	SenderHost *string `json:"sender_host"`
	FileSize   uint64  `json:"file_size"`
	FileHash   *string `json:"file_hash"`
	FileName   string  `json:"file_name"`
}

// PassphraseMessage answers a registration (relay -> sender).
type PassphraseMessage struct {
	Passphrase string `json:"passphrase"`
}

// RequestFileInfo looks up a pending transfer (receiver -> relay).
type RequestFileInfo struct {
	Passphrase string `json:"passphrase"`
}

// FileInfo is the pending transfer record as seen by the receiver.
type FileInfo struct {
	FileName   string  `json:"file_name"`
	FileSize   uint64  `json:"file_size"`
	FileHash   *string `json:"file_hash"`
	CreatedAt  int64   `json:"created_at"`
	SenderHost *string `json:"sender_host"`
	SenderAddr string  `json:"sender_addr"`
}

// RequestConnect confirms a transfer (receiver -> relay).
type RequestConnect struct {
	Passphrase   string  `json:"passphrase"`
	FileHash     *string `json:"file_hash"`
	ReceiverHost *string `json:"receiver_host"`
}

// SenderConnect tells the sender where its receiver is (relay -> sender).
type SenderConnect struct {
	ReceiverAddr string  `json:"receiver_addr"`
	ReceiverHost *string `json:"receiver_host"`
}

// ErrorMessage reports a failed request back to its source.
type ErrorMessage struct {
	Error string `json:"error"`
}

func (*RequestPassphrase) Tag() Tag { return TagRequestPassphrase }
func (*PassphraseMessage) Tag() Tag { return TagPassphraseMessage }
func (*RequestFileInfo) Tag() Tag   { return TagRequestFileInfo }
func (*FileInfo) Tag() Tag          { return TagFileInfo }
func (*RequestConnect) Tag() Tag    { return TagRequestConnect }
func (*SenderConnect) Tag() Tag     { return TagSenderConnect }
func (*ErrorMessage) Tag() Tag      { return TagError }

// String returns a pointer to s, for optional fields.
func String(s string) *string {
	return &s
}

// Deref returns the value behind an optional field, or def when it is null.
func Deref(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nudge/internal/logger"
)

type MemoryStore struct {
	mu       sync.Mutex
	records  map[Passphrase]*TransferRecord
	onExpire func(p Passphrase)
	now      func() time.Time
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore returns an in-process store that evicts expired records
// every cleanupInterval. A non-positive interval disables the sweep; expired
// records are then only dropped when touched.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	store := &MemoryStore{
		records: make(map[Passphrase]*TransferRecord),
		now:     time.Now,
		log:     logger.Component("session"),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go store.cleanupLoop(cleanupInterval)
	}
	return store
}

func (st *MemoryStore) OnExpire(fn func(p Passphrase)) {
	st.mu.Lock()
	st.onExpire = fn
	st.mu.Unlock()
}

func (st *MemoryStore) Insert(p Passphrase, rec *TransferRecord) error {
	st.mu.Lock()
	expired := st.dropExpiredLocked(p)
	if _, ok := st.records[p]; ok {
		st.mu.Unlock()
		return ErrPassphraseTaken
	}
	cp := *rec
	st.records[p] = &cp
	st.mu.Unlock()

	st.notify(expired)
	st.log.Debug().Str("fingerprint", Fingerprint(p)).Msg("record stored")
	return nil
}

func (st *MemoryStore) Get(p Passphrase) (*TransferRecord, bool) {
	st.mu.Lock()
	expired := st.dropExpiredLocked(p)
	rec, ok := st.records[p]
	st.mu.Unlock()

	st.notify(expired)
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

func (st *MemoryStore) Consume(p Passphrase, claimedHash *string) (*TransferRecord, bool) {
	st.mu.Lock()
	expired := st.dropExpiredLocked(p)
	rec, ok := st.records[p]
	if ok && rec.VerifyHash(claimedHash) {
		delete(st.records, p)
	} else {
		ok = false
	}
	st.mu.Unlock()

	st.notify(expired)
	if !ok {
		return nil, false
	}
	return rec, true
}

func (st *MemoryStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.records)
}

func (st *MemoryStore) Close() error {
	st.stopOnce.Do(func() { close(st.stop) })
	return nil
}

// dropExpiredLocked removes p if it has expired and returns the callback
// to run once the lock is released.
func (st *MemoryStore) dropExpiredLocked(p Passphrase) func() {
	rec, ok := st.records[p]
	if !ok || !rec.IsExpired(st.now()) {
		return nil
	}
	delete(st.records, p)
	return st.expireCallback(p)
}

func (st *MemoryStore) expireCallback(p Passphrase) func() {
	fn := st.onExpire
	if fn == nil {
		return nil
	}
	return func() { fn(p) }
}

func (st *MemoryStore) notify(fn func()) {
	if fn != nil {
		fn()
	}
}

func (st *MemoryStore) sweep() {
	var callbacks []func()

	st.mu.Lock()
	now := st.now()
	for p, rec := range st.records {
		if rec.IsExpired(now) {
			delete(st.records, p)
			if fn := st.expireCallback(p); fn != nil {
				callbacks = append(callbacks, fn)
			}
			st.log.Info().Str("fingerprint", Fingerprint(p)).Msg("expired record cleaned up")
		}
	}
	st.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (st *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

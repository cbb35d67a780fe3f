package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nudge/internal/constants"
	"nudge/internal/logger"
)

var errHashMismatch = errors.New("hash mismatch")

const consumeRetries = 3

// expiredPattern matches the expired-key events of every database.
const expiredPattern = "__keyevent@*__:expired"

// RedisStore keeps records as JSON values whose key TTL matches the record
// expiry, so Redis does the eviction.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	onExpire func(p Passphrase)
	mu       sync.Mutex
	log      zerolog.Logger
	now      func() time.Time
	ctx      context.Context
	cancel   func()
	events   *redis.PubSub
	done     chan struct{}
}

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
		// Expired-key events arrive as plain pubsub messages on RESP2.
		Protocol: 2,
	}

	return newRedisStore(redis.NewClient(opts))
}

func newRedisStore(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store := &RedisStore{
		client: client,
		prefix: constants.RedisKeyPrefix,
		log:    logger.Component("session"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := store.client.Ping(ctx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}

	if err := store.watchExpiry(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}

	return store, nil
}

// watchExpiry subscribes to expired-key events so records evicted by their
// key TTL still reach the OnExpire callback. Servers that refuse CONFIG SET
// must have notify-keyspace-events including "Ex" configured already.
func (st *RedisStore) watchExpiry() error {
	if err := st.client.ConfigSet(st.ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		st.log.Warn().Err(err).Msg("could not enable keyspace notifications, relying on server config")
	}

	st.events = st.client.PSubscribe(st.ctx, expiredPattern)
	if _, err := st.events.Receive(st.ctx); err != nil {
		st.events.Close()
		return err
	}

	go st.expiryLoop(st.events.Channel())
	return nil
}

func (st *RedisStore) expiryLoop(msgs <-chan *redis.Message) {
	defer close(st.done)
	for msg := range msgs {
		if !strings.HasPrefix(msg.Payload, st.prefix) {
			continue
		}
		p := Passphrase(strings.TrimPrefix(msg.Payload, st.prefix))
		st.log.Debug().Str("fingerprint", Fingerprint(p)).Msg("record expired in redis")
		st.expired(p)
	}
}

func (st *RedisStore) key(p Passphrase) string {
	return st.prefix + string(p)
}

func (st *RedisStore) OnExpire(fn func(p Passphrase)) {
	st.mu.Lock()
	st.onExpire = fn
	st.mu.Unlock()
}

func (st *RedisStore) Insert(p Passphrase, rec *TransferRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = rec.ExpiresAt.Sub(st.now())
		if ttl <= 0 {
			return errors.New("record already expired")
		}
	}

	ok, err := st.client.SetNX(st.ctx, st.key(p), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrPassphraseTaken
	}

	st.log.Debug().Str("fingerprint", Fingerprint(p)).Dur("ttl", ttl).Msg("record stored in redis")
	return nil
}

func (st *RedisStore) Get(p Passphrase) (*TransferRecord, bool) {
	data, err := st.client.Get(st.ctx, st.key(p)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		st.log.Error().Err(err).Msg("failed to get record from redis")
		return nil, false
	}

	rec, err := st.decode(data)
	if err != nil {
		return nil, false
	}

	if rec.IsExpired(st.now()) {
		st.client.Del(st.ctx, st.key(p))
		st.expired(p)
		return nil, false
	}
	return rec, true
}

// Consume does the hash check and the delete inside one WATCH transaction,
// so a concurrent confirmation of the same passphrase cannot also succeed.
func (st *RedisStore) Consume(p Passphrase, claimedHash *string) (*TransferRecord, bool) {
	key := st.key(p)

	for attempt := 0; attempt < consumeRetries; attempt++ {
		var rec *TransferRecord

		err := st.client.Watch(st.ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(st.ctx, key).Bytes()
			if err != nil {
				return err
			}

			r, err := st.decode(data)
			if err != nil {
				return err
			}
			if r.IsExpired(st.now()) {
				return redis.Nil
			}
			if !r.VerifyHash(claimedHash) {
				return errHashMismatch
			}

			_, err = tx.TxPipelined(st.ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(st.ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			rec = r
			return nil
		}, key)

		switch {
		case err == nil:
			return rec, true
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil), errors.Is(err, errHashMismatch):
			return nil, false
		default:
			st.log.Error().Err(err).Msg("failed to consume record in redis")
			return nil, false
		}
	}
	return nil, false
}

func (st *RedisStore) Len() int {
	n := 0
	iter := st.client.Scan(st.ctx, 0, st.prefix+"*", 100).Iterator()
	for iter.Next(st.ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		st.log.Error().Err(err).Msg("redis scan error")
	}
	return n
}

func (st *RedisStore) Close() error {
	st.cancel()
	if st.events != nil {
		st.events.Close()
		<-st.done
	}
	return st.client.Close()
}

func (st *RedisStore) decode(data []byte) (*TransferRecord, error) {
	var rec TransferRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		st.log.Error().Err(err).Msg("failed to unmarshal record")
		return nil, err
	}
	return &rec, nil
}

func (st *RedisStore) expired(p Passphrase) {
	st.mu.Lock()
	fn := st.onExpire
	st.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

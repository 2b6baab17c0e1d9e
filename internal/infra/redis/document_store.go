package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/domain"
)

const maxTxRetries = 10

// DocumentStore implements app.DocumentStore on Redis.
// Layout:
//
//	doc:{collection}:{key}     JSON document
//	docs:{collection}          ZSET of keys, all scored 0, for lexical prefix listing
//	docs:{collection}:changes  pub/sub channel carrying one changeMessage per write
type DocumentStore struct {
	client *redis.Client
	log    logrus.FieldLogger
}

type changeMessage struct {
	Key     string          `json:"key"`
	Doc     domain.Document `json:"doc,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

func NewDocumentStore(client *redis.Client, log logrus.FieldLogger) *DocumentStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DocumentStore{client: client, log: log}
}

func (s *DocumentStore) Get(ctx context.Context, collection, key string) (domain.Document, bool, error) {
	raw, err := s.client.Get(ctx, docKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return doc, true, nil
}

// Set writes doc. With merge the read-modify-write runs under WATCH and is
// retried when another writer touches the document in between.
func (s *DocumentStore) Set(ctx context.Context, collection, key string, doc domain.Document, merge bool) error {
	dk := docKey(collection, key)
	txf := func(tx *redis.Tx) error {
		next := doc
		if merge {
			raw, err := tx.Get(ctx, dk).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				prev, err := decodeDoc(raw)
				if err != nil {
					return fmt.Errorf("decode %s/%s: %w", collection, key, err)
				}
				next = prev.Merge(doc)
			}
		}
		normalized, err := next.Normalize()
		if err != nil {
			return err
		}
		payload, err := json.Marshal(normalized)
		if err != nil {
			return err
		}
		change, err := json.Marshal(changeMessage{Key: key, Doc: normalized})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dk, payload, 0)
			pipe.ZAdd(ctx, indexKey(collection), redis.Z{Score: 0, Member: key})
			pipe.Publish(ctx, channelKey(collection), change)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, dk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("set %s/%s: too much contention", collection, key)
}

func (s *DocumentStore) Delete(ctx context.Context, collection, key string) error {
	change, err := json.Marshal(changeMessage{Key: key, Deleted: true})
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, key))
		pipe.ZRem(ctx, indexKey(collection), key)
		pipe.Publish(ctx, channelKey(collection), change)
		return nil
	})
	return err
}

func (s *DocumentStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	n, err := s.client.Exists(ctx, docKey(collection, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns the documents whose key starts with prefix, ordered by key.
func (s *DocumentStore) List(ctx context.Context, collection, prefix string) ([]domain.Snapshot, error) {
	lo, hi := "-", "+"
	if prefix != "" {
		lo, hi = "["+prefix, "("+prefix+"\xff"
	}
	keys, err := s.client.ZRangeByLex(ctx, indexKey(collection), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []domain.Snapshot{}, nil
	}

	docKeys := make([]string, len(keys))
	for i, k := range keys {
		docKeys[i] = docKey(collection, k)
	}
	values, err := s.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Snapshot, 0, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a document
			continue
		}
		doc, err := decodeDoc([]byte(raw))
		if err != nil {
			s.log.WithError(err).WithField("key", keys[i]).Warn("skipping undecodable document")
			continue
		}
		out = append(out, domain.Snapshot{Key: keys[i], Doc: doc})
	}
	return out, nil
}

// Subscribe listens on the collection's change channel before reading the
// initial snapshot, so no write is missed. Changes made between the two steps
// may be delivered twice; callers apply them idempotently.
func (s *DocumentStore) Subscribe(ctx context.Context, collection string, onChange func(domain.Change)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, channelKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	initial, err := s.List(ctx, collection, "")
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	for _, snap := range initial {
		onChange(domain.Change{Collection: collection, Key: snap.Key, Doc: snap.Doc})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range pubsub.Channel() {
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed change")
				continue
			}
			onChange(domain.Change{Collection: collection, Key: change.Key, Doc: change.Doc, Deleted: change.Deleted})
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
		wg.Wait()
	}, nil
}

func decodeDoc(raw []byte) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func docKey(collection, key string) string {
	return "doc:" + collection + ":" + key
}

func indexKey(collection string) string {
	return "docs:" + collection
}

func channelKey(collection string) string {
	return "docs:" + collection + ":changes"
}

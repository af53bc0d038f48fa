package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// NATSConfig configures the NATS JetStream key-value store.
type NATSConfig struct {
	URL    string
	Bucket string
	// TTL expires records of jobs that were never cleaned up.
	TTL     time.Duration
	Options []nats.Option
}

// NATSStore keeps job records in a JetStream key-value bucket so several
// processes can observe the jobs in flight.
type NATSStore struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

// NewNATSStore connects to NATS and creates or updates the bucket.
func NewNATSStore(ctx context.Context, cfg NATSConfig) (*NATSStore, error) {
	if cfg.URL == "" {
		return nil, constants.ErrNATSConfigRequired
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = constants.DefaultJobBucket
	}

	conn, err := nats.Connect(cfg.URL, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	stream, err := jetstream.New(conn)
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := stream.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cloudcall async job bookkeeping",
		TTL:         cfg.TTL,
	})
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("creating key-value bucket %s: %w", bucket, err)
	}

	return &NATSStore{conn: conn, kv: kv}, nil
}

// Save writes job as JSON.
func (s *NATSStore) Save(ctx context.Context, job *cloudcall.AsyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}

	_, err = s.kv.Put(ctx, storeKey(job.RecordKey()), data)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}

	return nil
}

// Load reads the record under key or returns ErrJobNotFound.
func (s *NATSStore) Load(ctx context.Context, key string) (*cloudcall.AsyncJob, error) {
	entry, err := s.kv.Get(ctx, storeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", constants.ErrJobNotFound, key)
		}

		return nil, fmt.Errorf("loading job %s: %w", key, err)
	}

	var job cloudcall.AsyncJob

	err = json.Unmarshal(entry.Value(), &job)
	if err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", key, err)
	}

	return &job, nil
}

// Delete removes the record under key.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, storeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting job %s: %w", key, err)
	}

	return nil
}

// List returns every stored job ordered by submission time.
func (s *NATSStore) List(ctx context.Context) ([]*cloudcall.AsyncJob, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	defer func() { _ = lister.Stop() }()

	var out []*cloudcall.AsyncJob

	for key := range lister.Keys() {
		recordKey, err := recordKeyFrom(key)
		if err != nil {
			continue
		}

		job, err := s.Load(ctx, recordKey)
		if err != nil {
			if errors.Is(err, constants.ErrJobNotFound) {
				continue
			}

			return nil, err
		}

		out = append(out, job)
	}

	sortJobs(out)

	return out, nil
}

// Close drains the connection.
func (s *NATSStore) Close() error {
	err := s.conn.Drain()
	if err != nil {
		return fmt.Errorf("draining NATS connection: %w", err)
	}

	return nil
}

// storeKey encodes a record key into the key alphabet NATS accepts; job ids
// are often URLs.
func storeKey(recordKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(recordKey))
}

func recordKeyFrom(key string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decoding key %s: %w", key, err)
	}

	return string(raw), nil
}

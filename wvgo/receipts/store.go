// Package receipts keeps proved receipts in a local BoltDB file, addressed by the job they prove.
package receipts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"

	"github.com/ethereum-optimism/wasmvm/wvgo/host"
)

var (
	ErrNotFound  = errors.New("receipt not found")
	ErrClosed    = errors.New("receipt store closed")
	ErrInvalidID = errors.New("invalid receipt id")
)

var (
	// bucketReceipts stores receipt JSON keyed by ID.
	bucketReceipts = []byte("receipts")

	// bucketByImage indexes IDs by image: imageID ++ ID -> empty.
	bucketByImage = []byte("by_image")
)

// ID addresses a receipt by the job it proves: the image and the inputs.
type ID [32]byte

// ReceiptID derives the ID of a receipt. Proving the same inputs twice yields the same ID.
func ReceiptID(r *host.Receipt) ID {
	h := blake3.New()
	_, _ = h.Write(r.ImageID[:])
	_, _ = h.Write(r.Inputs)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

func (id ID) String() string {
	return base58.Encode(id[:])
}

func ParseID(s string) (ID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if len(b) != len(ID{}) {
		return ID{}, fmt.Errorf("%w: %d bytes", ErrInvalidID, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	ReadOnly bool
}

type Store struct {
	db *bolt.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a receipt store.
func Open(config Config) (*Store, error) {
	if !config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !config.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketReceipts, bucketByImage} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores a receipt, replacing any receipt for the same job.
func (s *Store) Put(r *host.Receipt) (ID, error) {
	if err := s.check(); err != nil {
		return ID{}, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return ID{}, fmt.Errorf("encode receipt: %w", err)
	}
	id := ReceiptID(r)
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketReceipts).Put(id[:], data); err != nil {
			return err
		}
		return tx.Bucket(bucketByImage).Put(imageKey(r.ImageID, id), []byte{})
	})
	if err != nil {
		return ID{}, fmt.Errorf("put receipt %s: %w", id, err)
	}
	return id, nil
}

func (s *Store) Get(id ID) (*host.Receipt, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var r host.Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReceipts)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) Has(id ID) bool {
	_, err := s.Get(id)
	return err == nil
}

func (s *Store) Delete(id ID) error {
	r, err := s.Get(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketReceipts).Delete(id[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketByImage).Delete(imageKey(r.ImageID, id))
	})
}

// ListByImage returns the IDs of all receipts for an image, in key order.
func (s *Store) ListByImage(imageID common.Hash) ([]ID, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var ids []ID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketByImage)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		prefix := imageID[:]
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var id ID
			copy(id[:], k[len(prefix):])
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// Count returns the number of stored receipts.
func (s *Store) Count() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketReceipts); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func imageKey(imageID common.Hash, id ID) []byte {
	k := make([]byte, 0, len(imageID)+len(id))
	k = append(k, imageID[:]...)
	return append(k, id[:]...)
}

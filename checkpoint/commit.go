package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/vqgo/blobstore"
	"github.com/hupe1980/vqgo/codec"
)

// ErrNotImproved is returned by Commit when the stored best loss is lower
// than the candidate's.
var ErrNotImproved = errors.New("checkpoint: loss did not improve")

// ErrNoCommit is returned by Latest before the first commit.
var ErrNoCommit = errors.New("checkpoint: no commit")

// Pointer names the checkpoint holding the best loss seen so far.
type Pointer struct {
	Path      string    `json:"path"`
	Epoch     int       `json:"epoch"`
	Loss      float64   `json:"loss"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommitStore records the best checkpoint. Commit succeeds when the
// candidate's loss is less than or equal to the stored one, matching the
// save rule of the trainer.
type CommitStore interface {
	Commit(ctx context.Context, p Pointer) error
	Latest(ctx context.Context) (Pointer, error)
}

// StoreCommitStore keeps the pointer as a small blob next to the
// checkpoint. The read-compare-write is serialized in-process only, so it
// suits a single trainer per store.
type StoreCommitStore struct {
	store blobstore.Store
	name  string
	codec codec.Codec

	mu sync.Mutex
}

var _ CommitStore = (*StoreCommitStore)(nil)

// NewStoreCommitStore stores the pointer in blob name, e.g.
// "models/MNIST_autoencoder.best".
func NewStoreCommitStore(store blobstore.Store, name string) *StoreCommitStore {
	return &StoreCommitStore{store: store, name: name, codec: codec.GoJSON{}}
}

// Commit implements CommitStore.
func (s *StoreCommitStore) Commit(ctx context.Context, p Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.latest(ctx)
	switch {
	case errors.Is(err, ErrNoCommit):
	case err != nil:
		return err
	case cur.Loss < p.Loss:
		return ErrNotImproved
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	data, err := s.codec.Marshal(p)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, s.name, data)
}

// Latest implements CommitStore.
func (s *StoreCommitStore) Latest(ctx context.Context) (Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(ctx)
}

func (s *StoreCommitStore) latest(ctx context.Context) (Pointer, error) {
	data, err := blobstore.ReadAll(ctx, s.store, s.name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Pointer{}, ErrNoCommit
	}
	if err != nil {
		return Pointer{}, err
	}
	var p Pointer
	if err := s.codec.Unmarshal(data, &p); err != nil {
		return Pointer{}, fmt.Errorf("checkpoint: decode pointer %s: %w", s.name, err)
	}
	return p, nil
}

package data

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vqgo/resource"
	"github.com/hupe1980/vqgo/tensor"
)

// Batch is one collated mini-batch.
type Batch struct {
	// Index is the position of the batch within the epoch.
	Index int
	// X has shape (B, C, H, W); the last batch of an epoch may be short.
	X      *tensor.Tensor
	Labels []int

	release func()
}

// Release returns the batch's memory reservation to the loader's resource
// controller. It is safe to call more than once.
func (b *Batch) Release() {
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithWorkers sets the number of decoding goroutines. Default: 1.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithPrefetch sets how many batches may be decoded ahead of the consumer.
// Default: 2.
func WithPrefetch(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.prefetch = n
		}
	}
}

// WithShuffle visits examples in a new random order on every pass.
func WithShuffle(rng *rand.Rand) LoaderOption {
	return func(l *Loader) { l.rng = rng }
}

// WithResourceController gates workers and prefetched memory through rc.
func WithResourceController(rc *resource.Controller) LoaderOption {
	return func(l *Loader) { l.rc = rc }
}

// Loader iterates a Dataset in batches.
type Loader struct {
	ds        Dataset
	batchSize int
	workers   int
	prefetch  int
	rng       *rand.Rand
	rc        *resource.Controller

	mu  sync.Mutex
	err error
}

// NewLoader creates a loader over ds. batchSize must be positive.
func NewLoader(ds Dataset, batchSize int, opts ...LoaderOption) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	l := &Loader{
		ds:        ds,
		batchSize: batchSize,
		workers:   1,
		prefetch:  2,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset { return l.ds }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// Len returns the number of batches per pass, counting a final short batch.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Err returns the error that ended the most recent pass, if any. It is
// valid once the channel returned by Batches is closed.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loader) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

type job struct {
	index   int
	out     chan Batch
	release func()
}

// Batches starts one pass over the dataset and returns a channel that
// yields the batches in order. The channel is closed at the end of the pass
// or on the first error; check Err afterwards. Callers that stop reading
// early must cancel ctx.
//
// Consumers call Batch.Release once they are done with a batch.
func (l *Loader) Batches(ctx context.Context) <-chan Batch {
	out := make(chan Batch)
	order := l.order()
	l.setErr(nil)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		jobs := make(chan job)
		pending := make(chan chan Batch, l.prefetch)

		// Dispatcher: reserves memory and an ordered slot in index order, then
		// hands the job to a worker. Batch i always holds its reservation
		// before batch i+1 asks for one, so the batch the consumer waits for
		// can never be starved by later ones.
		g.Go(func() error {
			defer close(jobs)
			defer close(pending)
			for i := 0; i < l.Len(); i++ {
				release, err := l.reserve(gctx, i)
				if err != nil {
					return err
				}
				res := make(chan Batch, 1)
				select {
				case pending <- res:
				case <-gctx.Done():
					release()
					return gctx.Err()
				}
				select {
				case jobs <- job{index: i, out: res, release: release}:
				case <-gctx.Done():
					release()
					return gctx.Err()
				}
			}
			return nil
		})

		for w := 0; w < l.workers; w++ {
			g.Go(func() error {
				if err := l.rc.AcquireBackground(gctx); err != nil {
					releaseJobs(jobs)
					return err
				}
				defer l.rc.ReleaseBackground()

				for j := range jobs {
					b, err := l.load(j, order)
					if err != nil {
						return err
					}
					j.out <- b
				}
				return nil
			})
		}

		// Deliverer: preserves dataset order regardless of worker timing.
		var waiting chan Batch
		g.Go(func() error {
			for res := range pending {
				waiting = res
				var b Batch
				select {
				case b = <-res:
				case <-gctx.Done():
					return gctx.Err()
				}
				waiting = nil
				select {
				case out <- b:
				case <-gctx.Done():
					b.Release()
					return gctx.Err()
				}
			}
			return nil
		})

		err := g.Wait()
		// Batches decoded but never delivered still hold memory.
		drain := func(res chan Batch) {
			select {
			case b := <-res:
				b.Release()
			default:
			}
		}
		if waiting != nil {
			drain(waiting)
		}
		for res := range pending {
			drain(res)
		}
		l.setErr(err)
	}()

	return out
}

// order returns the example permutation for one pass, or nil for dataset
// order.
func (l *Loader) order() []int {
	if l.rng == nil {
		return nil
	}
	return l.rng.Perm(l.ds.Len())
}

// batchBytes is the size of the collated float32 tensor of batch index.
func (l *Loader) batchBytes(index int) int64 {
	start := index * l.batchSize
	end := min(start+l.batchSize, l.ds.Len())
	c, h, w := l.ds.Shape()
	return int64(end-start) * int64(c*h*w) * 4
}

// reserve takes the memory for batch index from the controller and returns
// an idempotent release.
func (l *Loader) reserve(ctx context.Context, index int) (func(), error) {
	bytes := l.batchBytes(index)
	if err := l.rc.AcquireMemory(ctx, bytes); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.rc.ReleaseMemory(bytes) }) }, nil
}

// load collates the batch of j. The reservation moves into the returned
// batch, or is released on error.
func (l *Loader) load(j job, order []int) (Batch, error) {
	start := j.index * l.batchSize
	end := min(start+l.batchSize, l.ds.Len())

	var (
		x      *tensor.Tensor
		labels []int
		err    error
	)
	if order == nil {
		x, labels, err = Collate(l.ds, start, end)
	} else {
		x, labels, err = Collate(permuted{l.ds, order}, start, end)
	}
	if err != nil {
		j.release()
		return Batch{}, err
	}
	return Batch{Index: j.index, X: x, Labels: labels, release: j.release}, nil
}

// releaseJobs returns the reservations of jobs no worker will load.
func releaseJobs(jobs <-chan job) {
	for j := range jobs {
		j.release()
	}
}

// permuted views a dataset through an index permutation.
type permuted struct {
	Dataset
	order []int
}

func (p permuted) Example(i int) ([]float32, int, error) {
	return p.Dataset.Example(p.order[i])
}

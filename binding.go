package imgfetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meigma/imgfetch/source"
)

// View displays the image of a Slot.
//
// SetImage is called with the slot locked and must not call back into the
// slot. A nil image clears the view.
type View interface {
	SetImage(img *Image)
}

// ViewFunc adapts a function to View.
type ViewFunc func(img *Image)

// SetImage calls fn.
func (fn ViewFunc) SetImage(img *Image) {
	fn(img)
}

// Slot is a long-lived display target, such as a list cell, that tracks the
// image it currently wants.
//
// Every Bind starts a new generation. A result is applied only if its
// generation is still the slot's current one when it is delivered, so a
// slow superseded fetch can never overwrite a later one, even for the same
// key. A Slot is safe for concurrent use.
type Slot struct {
	generation atomic.Uint64

	mu       sync.Mutex
	want     source.Key
	image    *Image
	cancel   context.CancelFunc
	view     View
	executor Executor
}

// SlotOption configures a Slot.
type SlotOption func(*Slot)

// WithView attaches a view that mirrors the slot's displayed image.
func WithView(v View) SlotOption {
	return func(s *Slot) {
		s.view = v
	}
}

// WithSlotExecutor delivers this slot's callbacks on e instead of the
// fetcher's executor.
func WithSlotExecutor(e Executor) SlotOption {
	return func(s *Slot) {
		s.executor = e
	}
}

// NewSlot creates an empty Slot.
func NewSlot(opts ...SlotOption) *Slot {
	s := &Slot{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Want returns the key the slot currently wants, or "" when idle.
func (s *Slot) Want() source.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.want
}

// Image returns the displayed image.
func (s *Slot) Image() *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Generation returns the current generation token.
func (s *Slot) Generation() uint64 {
	return s.generation.Load()
}

// Reset abandons the in-flight fetch, if any, and clears the want and the
// displayed image.
func (s *Slot) Reset() {
	s.begin("", nil, nil)
}

// begin starts a new generation: the previous fetch is canceled, the want
// is replaced and the placeholder is displayed.
func (s *Slot) begin(key source.Key, placeholder *Image, cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	gen := s.generation.Add(1)
	s.want = key
	s.cancel = cancel
	s.display(placeholder)
	return gen
}

// commit applies img if gen is still current.
func (s *Slot) commit(gen uint64, img *Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation.Load() != gen {
		return false
	}
	s.cancel = nil
	s.display(img)
	return true
}

func (s *Slot) current(gen uint64) bool {
	return s.generation.Load() == gen
}

func (s *Slot) display(img *Image) {
	s.image = img
	if s.view != nil {
		s.view.SetImage(img)
	}
}

func (s *Slot) executorOr(fallback Executor) Executor {
	if s.executor != nil {
		return s.executor
	}
	return fallback
}

// BindOption configures a single Bind call.
type BindOption func(*bindConfig)

type bindConfig struct {
	placeholder *Image
	progress    source.ProgressFunc
	completion  func(*Image)
}

// WithPlaceholder displays img until the result arrives.
func WithPlaceholder(img *Image) BindOption {
	return func(c *bindConfig) {
		c.placeholder = img
	}
}

// WithProgress reports download progress for the bound fetch. Progress of a
// superseded fetch is dropped.
func WithProgress(fn source.ProgressFunc) BindOption {
	return func(c *bindConfig) {
		c.progress = fn
	}
}

// WithCompletion is called once with the result, or nil on failure, if the
// slot still wants it. A superseded fetch never calls it.
func WithCompletion(fn func(*Image)) BindOption {
	return func(c *bindConfig) {
		c.completion = fn
	}
}

// Bind points slot at src.
//
// The placeholder is displayed and the slot's want replaced before Bind
// returns; the previous fetch of the slot is canceled. For an empty source
// the completion runs synchronously with nil and nothing is fetched.
// Otherwise the fetch runs in the background and its result is delivered
// through the slot's executor, falling back to the fetcher's.
func (f *Fetcher) Bind(ctx context.Context, slot *Slot, src source.Descriptor, opts ...BindOption) {
	var cfg bindConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	key := source.DeriveKey(src)
	if key == "" {
		slot.begin("", cfg.placeholder, nil)
		if cfg.completion != nil {
			cfg.completion(nil)
		}
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	gen := slot.begin(key, cfg.placeholder, cancel)
	exec := slot.executorOr(f.executor)

	var progress source.ProgressFunc
	if cfg.progress != nil {
		progress = func(done, total uint64) {
			exec.Execute(func() {
				if slot.current(gen) {
					cfg.progress(done, total)
				}
			})
		}
	}

	go func() {
		defer cancel()
		img, _ := f.Fetch(ctx, src, progress)
		exec.Execute(func() {
			if !slot.commit(gen, img) {
				f.logger.Debug("discarded stale result", "key", string(key), "generation", gen)
				f.metrics.discard(ctx)
				return
			}
			if cfg.completion != nil {
				cfg.completion(img)
			}
		})
	}()
}

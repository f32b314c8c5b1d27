// Package service manages named chains on top of a Store.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/chain"
	"github.com/jmerrifield20/minichain/internal/store"
	"github.com/jmerrifield20/minichain/internal/webhooks"
)

var (
	// ErrNotFound is returned when no chain exists under the requested name.
	ErrNotFound = errors.New("chain not found")

	// ErrExists is returned when creating a chain under a taken name.
	ErrExists = errors.New("chain already exists")

	// ErrInvalidName is returned for names outside [A-Za-z0-9._-]{1,64}.
	ErrInvalidName = errors.New("invalid chain name")

	// ErrTransactionTooLarge is returned when a payload exceeds the configured limit.
	ErrTransactionTooLarge = errors.New("transaction too large")
)

// DefaultMaxTransactionBytes bounds a single payload when no limit is configured.
const DefaultMaxTransactionBytes = 64 << 10

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Metrics receives service events. handler.PrometheusMetrics satisfies it.
type Metrics interface {
	ChainsLoaded(n int)
	ChainCreated()
	ChainDeleted()
	BlockAppended()
	ChainVerified(valid bool)
	ChainForked()
}

type noopMetrics struct{}

func (noopMetrics) ChainsLoaded(int)   {}
func (noopMetrics) ChainCreated()      {}
func (noopMetrics) ChainDeleted()      {}
func (noopMetrics) BlockAppended()     {}
func (noopMetrics) ChainVerified(bool) {}
func (noopMetrics) ChainForked()       {}

// Notifier receives chain events. webhooks.Service satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, eventType, chain string, payload map[string]string)
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, string, string, map[string]string) {}

// Info summarises a chain.
type Info struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
	Head   string `json:"head"`
}

// VerifyResult is the outcome of verifying one chain.
type VerifyResult struct {
	Name       string           `json:"name"`
	Valid      bool             `json:"valid"`
	Violations chain.Violations `json:"violations"`
}

// entry pairs a loaded chain with the lock that keeps its in-memory state
// and its stored snapshot in step. Once deleted is set the entry is dead:
// a chain created later under the same name gets a fresh entry.
type entry struct {
	mu      sync.RWMutex
	name    string
	c       *chain.Chain
	deleted bool
}

func (e *entry) current() (*chain.Chain, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, e.name)
	}
	return e.c, nil
}

// ChainService contains the business logic for named chains.
type ChainService struct {
	mu      sync.RWMutex
	chains  map[string]*entry
	store   store.Store
	metrics Metrics
	notify  Notifier
	maxTx   int
	logger  *zap.Logger
}

// NewChainService creates a ChainService persisting to st.
func NewChainService(st store.Store, logger *zap.Logger) *ChainService {
	return &ChainService{
		chains:  make(map[string]*entry),
		store:   st,
		metrics: noopMetrics{},
		notify:  noopNotifier{},
		maxTx:   DefaultMaxTransactionBytes,
		logger:  logger,
	}
}

// SetMetrics configures the metrics sink.
func (s *ChainService) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
}

// SetNotifier configures where chain events are sent.
func (s *ChainService) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notify = n
}

// SetMaxTransactionBytes sets the payload limit; n <= 0 restores the default.
func (s *ChainService) SetMaxTransactionBytes(n int) {
	if n <= 0 {
		n = DefaultMaxTransactionBytes
	}
	s.maxTx = n
}

// Create starts a new chain holding only the genesis block. An empty name
// is replaced by a random UUID.
func (s *ChainService) Create(ctx context.Context, name string) (*Info, error) {
	if name == "" {
		name = uuid.NewString()
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureAbsentLocked(ctx, name); err != nil {
		return nil, err
	}

	c := chain.New()
	if err := s.store.Save(ctx, name, c); err != nil {
		return nil, fmt.Errorf("save chain: %w", err)
	}
	s.chains[name] = &entry{name: name, c: c}
	s.metrics.ChainCreated()

	s.logger.Info("chain created",
		zap.String("chain", name),
		zap.String("genesis", c.Head().Hash()),
	)
	s.notify.Dispatch(ctx, webhooks.EventChainCreated, name, map[string]string{
		"genesis": c.Head().Hash(),
	})
	return info(name, c), nil
}

// Get returns an independent copy of the named chain.
func (s *ChainService) Get(ctx context.Context, name string) (*chain.Chain, error) {
	c, err := s.current(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.Fork(chain.WholeChain)
}

// Info returns the summary of the named chain.
func (s *ChainService) Info(ctx context.Context, name string) (*Info, error) {
	c, err := s.current(ctx, name)
	if err != nil {
		return nil, err
	}
	return info(name, c), nil
}

// Records returns every block record of the named chain, genesis first.
func (s *ChainService) Records(ctx context.Context, name string) ([]chain.Record, error) {
	c, err := s.current(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.Records(), nil
}

// Block returns the record at idx on the named chain.
func (s *ChainService) Block(ctx context.Context, name string, idx int) (chain.Record, error) {
	c, err := s.current(ctx, name)
	if err != nil {
		return chain.Record{}, err
	}
	b, err := c.Block(idx)
	if err != nil {
		return chain.Record{}, err
	}
	return b.Record(), nil
}

// List returns a summary of every stored chain, ordered by name.
func (s *ChainService) List(ctx context.Context) ([]Info, error) {
	names, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	out := make([]Info, 0, len(names))
	for _, name := range names {
		c, err := s.current(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue // deleted since List
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *info(name, c))
	}
	return out, nil
}

// Append seals transaction into a new block on the named chain and persists
// the chain. If the store rejects the write the block is dropped again.
func (s *ChainService) Append(ctx context.Context, name, transaction string) (chain.Record, error) {
	if len(transaction) > s.maxTx {
		return chain.Record{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTransactionTooLarge, len(transaction), s.maxTx)
	}

	e, err := s.load(ctx, name)
	if err != nil {
		return chain.Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return chain.Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	prevLen := e.c.Len()
	b := e.c.Append(transaction)
	if err := s.store.Save(ctx, name, e.c); err != nil {
		e.c, _ = e.c.Fork(prevLen)
		return chain.Record{}, fmt.Errorf("save chain: %w", err)
	}
	s.metrics.BlockAppended()

	s.logger.Debug("block appended",
		zap.String("chain", name),
		zap.Int("idx", b.Index()),
		zap.String("hash", b.Hash()),
	)
	s.notify.Dispatch(ctx, webhooks.EventBlockAppended, name, map[string]string{
		"index":         strconv.Itoa(b.Index()),
		"hash":          b.Hash(),
		"previous_hash": b.PreviousHash(),
	})
	return b.Record(), nil
}

// Verify checks the named chain's integrity.
func (s *ChainService) Verify(ctx context.Context, name string) (*VerifyResult, error) {
	c, err := s.current(ctx, name)
	if err != nil {
		return nil, err
	}
	ok, vs := c.Verify()
	s.metrics.ChainVerified(ok)
	if !ok {
		s.logger.Warn("chain integrity check failed",
			zap.String("chain", name),
			zap.Error(vs.Err()),
		)
		s.notify.Dispatch(ctx, webhooks.EventChainInvalid, name, map[string]string{
			"violations": strconv.Itoa(len(vs)),
			"first":      vs[0].Error(),
		})
	}
	return &VerifyResult{Name: name, Valid: ok, Violations: vs}, nil
}

// VerifyAll loads and verifies every stored chain.
func (s *ChainService) VerifyAll(ctx context.Context) ([]VerifyResult, error) {
	names, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	results := make([]VerifyResult, 0, len(names))
	for _, name := range names {
		r, err := s.Verify(ctx, name)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	s.metrics.ChainsLoaded(len(names))
	return results, nil
}

// Fork stores a copy of src truncated at point under dst. point may be
// chain.WholeChain. An empty dst is replaced by a random UUID.
func (s *ChainService) Fork(ctx context.Context, src string, point int, dst string) (*Info, error) {
	c, err := s.current(ctx, src)
	if err != nil {
		return nil, err
	}
	f, err := c.Fork(point)
	if err != nil {
		return nil, err
	}

	out, err := s.insert(ctx, dst, f)
	if err != nil {
		return nil, err
	}
	s.metrics.ChainForked()
	s.logger.Info("chain forked",
		zap.String("chain", src),
		zap.String("fork", out.Name),
		zap.Int("point", f.Len()),
	)
	s.notify.Dispatch(ctx, webhooks.EventChainForked, out.Name, map[string]string{
		"source": src,
		"point":  strconv.Itoa(f.Len()),
		"head":   out.Head,
	})
	return out, nil
}

// CommonAncestor returns the prefix shared by chains a and b. The result is
// not stored.
func (s *ChainService) CommonAncestor(ctx context.Context, a, b string) (*chain.Chain, error) {
	ca, err := s.current(ctx, a)
	if err != nil {
		return nil, err
	}
	cb, err := s.current(ctx, b)
	if err != nil {
		return nil, err
	}
	return ca.CommonAncestor(cb), nil
}

// SaveCommonAncestor stores the prefix shared by a and b under dst.
func (s *ChainService) SaveCommonAncestor(ctx context.Context, a, b, dst string) (*Info, error) {
	root, err := s.CommonAncestor(ctx, a, b)
	if err != nil {
		return nil, err
	}
	out, err := s.insert(ctx, dst, root)
	if err != nil {
		return nil, err
	}
	s.logger.Info("common ancestor stored",
		zap.String("chain", a),
		zap.String("other", b),
		zap.String("ancestor", out.Name),
		zap.Int("length", out.Length),
	)
	s.notify.Dispatch(ctx, webhooks.EventChainForked, out.Name, map[string]string{
		"source": a,
		"other":  b,
		"point":  strconv.Itoa(out.Length),
		"head":   out.Head,
	})
	return out, nil
}

// Delete removes the named chain from the store and the cache. It waits for
// an append in flight on the chain to finish, and later appends through a
// stale entry fail with ErrNotFound.
func (s *ChainService) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, cached := s.chains[name]
	if cached {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	if err := s.store.Delete(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete chain: %w", err)
	}
	if cached {
		e.deleted = true
	}
	delete(s.chains, name)
	s.metrics.ChainDeleted()
	s.logger.Info("chain deleted", zap.String("chain", name))
	s.notify.Dispatch(ctx, webhooks.EventChainDeleted, name, nil)
	return nil
}

// insert stores c under a new name.
func (s *ChainService) insert(ctx context.Context, name string, c *chain.Chain) (*Info, error) {
	if name == "" {
		name = uuid.NewString()
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureAbsentLocked(ctx, name); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, name, c); err != nil {
		return nil, fmt.Errorf("save chain: %w", err)
	}
	s.chains[name] = &entry{name: name, c: c}
	s.metrics.ChainCreated()
	return info(name, c), nil
}

// load returns the cached entry for name, reading it from the store on a miss.
// The miss path holds s.mu so a concurrent Delete cannot slip between the
// store read and the cache insert.
func (s *ChainService) load(ctx context.Context, name string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.chains[name]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.chains[name]; ok {
		return e, nil
	}

	c, err := s.store.Load(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("load chain: %w", err)
	}
	e = &entry{name: name, c: c}
	s.chains[name] = e
	return e, nil
}

// current returns the live chain for name.
func (s *ChainService) current(ctx context.Context, name string) (*chain.Chain, error) {
	e, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.current()
}

// ensureAbsentLocked fails with ErrExists if name is cached or stored.
// The caller must hold s.mu.
func (s *ChainService) ensureAbsentLocked(ctx context.Context, name string) error {
	if _, ok := s.chains[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	_, err := s.store.Load(ctx, name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrExists, name)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check chain: %w", err)
	}
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func info(name string, c *chain.Chain) *Info {
	return &Info{Name: name, Length: c.Len(), Head: c.Head().Hash()}
}

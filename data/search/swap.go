package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncobase/nsearch/logging/logger"
)

// DefaultSwapBatchSize is the number of documents sent per bulk request
const DefaultSwapBatchSize = 500

// ErrVerification is returned when the rebuilt store holds an unexpected count
var ErrVerification = errors.New("search: rebuilt index count mismatch")

// DocumentSource supplies the documents of a rebuild
type DocumentSource interface {
	// SourceIDs lists the identifiers of every record to index
	SourceIDs(ctx context.Context, idx *Index) ([]string, error)
	// Document resolves one record; nil means skip
	Document(ctx context.Context, idx *Index, id string) (Document, error)
}

// SliceSource serves documents held in memory
type SliceSource []Document

// SourceIDs implements DocumentSource
func (s SliceSource) SourceIDs(_ context.Context, _ *Index) ([]string, error) {
	ids := make([]string, 0, len(s))
	for _, doc := range s {
		ids = append(ids, doc.ID())
	}
	return ids, nil
}

// Document implements DocumentSource
func (s SliceSource) Document(_ context.Context, _ *Index, id string) (Document, error) {
	for _, doc := range s {
		if doc.ID() == id {
			return doc, nil
		}
	}
	return nil, nil
}

// SwapOptions tunes a rebuild
type SwapOptions struct {
	BatchSize    int
	AllowPartial bool
	Verify       bool
}

// SwapReport describes a finished rebuild
type SwapReport struct {
	Index    string        `json:"index"`
	Engine   Engine        `json:"engine"`
	Target   string        `json:"target"`
	Gap      bool          `json:"gap"`
	Written  int           `json:"written"`
	Skipped  int           `json:"skipped"`
	Failures []ItemFailure `json:"failures,omitempty"`
	Count    int64         `json:"count"`
	Duration time.Duration `json:"duration"`
}

// Swapper rebuilds indexes without a window of missing results
type Swapper struct {
	adapter Adapter
	locker  Locker
}

// NewSwapper creates a swapper; a nil locker uses an in-process one
func NewSwapper(adapter Adapter, locker Locker) *Swapper {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Swapper{adapter: adapter, locker: locker}
}

// LockKey returns the lock key of a rebuild of idx
func LockKey(engine Engine, idx *Index) string {
	return "nsearch:swap:" + string(engine) + ":" + idx.PhysicalName()
}

// Rebuild repopulates idx from src. Engines able to swap get a fresh store
// that replaces production in one commit; the others are flushed and
// refilled in place, reported with Gap set.
func (s *Swapper) Rebuild(ctx context.Context, idx *Index, src DocumentSource, opts SwapOptions) (*SwapReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultSwapBatchSize
	}
	start := time.Now()
	engine := s.adapter.Engine()

	unlock, err := s.locker.Lock(ctx, LockKey(engine, idx))
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", idx.Handle, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf(ctx, "failed to release swap lock of %s: %v", idx.Handle, err)
		}
	}()

	report := &SwapReport{Index: idx.PhysicalName(), Engine: engine}

	if !s.adapter.SupportsAtomicSwap() {
		report.Gap = true
		report.Target = idx.PhysicalName()
		logger.Warnf(ctx, "%s cannot swap atomically, %s is flushed and repopulated in place; searches see partial results until done",
			s.adapter.DisplayName(), idx.PhysicalName())
		if err := s.repopulate(ctx, idx, src, opts, report); err != nil {
			return report, err
		}
		return s.finish(ctx, idx, opts, report, start)
	}

	swapIdx, err := s.adapter.BuildSwapHandle(ctx, idx)
	if err != nil {
		return report, fmt.Errorf("failed to resolve swap target of %s: %w", idx.Handle, err)
	}
	if swapIdx.PhysicalName() == idx.PhysicalName() {
		return report, &ConfigurationError{Engine: engine, Field: "swap", Reason: "swap target equals production store"}
	}
	report.Target = swapIdx.PhysicalName()

	logger.Infof(ctx, "rebuilding %s into %s", idx.PhysicalName(), swapIdx.PhysicalName())

	// leftover of an interrupted rebuild
	if err := s.adapter.DeleteIndex(ctx, swapIdx); err != nil {
		return report, fmt.Errorf("failed to clear swap target %s: %w", swapIdx.PhysicalName(), err)
	}
	if err := s.adapter.CreateIndex(ctx, swapIdx); err != nil {
		return report, fmt.Errorf("failed to create swap target %s: %w", swapIdx.PhysicalName(), err)
	}

	if err := s.populate(ctx, swapIdx, src, opts, report); err != nil {
		s.discard(ctx, swapIdx)
		return report, err
	}

	if err := s.adapter.SwapIndex(ctx, idx, swapIdx); err != nil {
		return report, fmt.Errorf("failed to commit swap of %s: %w", idx.Handle, err)
	}
	logger.Infof(ctx, "swapped %s to %s (%d documents)", idx.PhysicalName(), swapIdx.PhysicalName(), report.Written)

	return s.finish(ctx, idx, opts, report, start)
}

func (s *Swapper) repopulate(ctx context.Context, idx *Index, src DocumentSource, opts SwapOptions, report *SwapReport) error {
	exists, err := s.adapter.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.adapter.CreateIndex(ctx, idx); err != nil {
			return err
		}
	} else {
		if err := s.adapter.UpdateIndexSettings(ctx, idx); err != nil {
			return err
		}
		if err := s.adapter.FlushIndex(ctx, idx); err != nil {
			return err
		}
	}
	return s.populate(ctx, idx, src, opts, report)
}

func (s *Swapper) populate(ctx context.Context, idx *Index, src DocumentSource, opts SwapOptions, report *SwapReport) error {
	ids, err := src.SourceIDs(ctx, idx)
	if err != nil {
		return fmt.Errorf("failed to list source documents: %w", err)
	}
	ids = UniqueIDs(ids)

	batch := make([]Document, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := s.adapter.IndexDocuments(ctx, idx, batch)
		if err != nil {
			return err
		}
		if res != nil {
			report.Written += res.Succeeded
			report.Failures = append(report.Failures, res.Failures...)
		}
		batch = batch[:0]
		return nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := src.Document(ctx, idx, id)
		if err != nil {
			return fmt.Errorf("failed to resolve document %s: %w", id, err)
		}
		if doc == nil {
			report.Skipped++
			continue
		}
		if doc.ID() == "" {
			doc = doc.Clone()
			doc[ObjectIDKey] = id
		}
		batch = append(batch, doc)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if len(report.Failures) > 0 && !opts.AllowPartial {
		return &BulkError{
			Engine:   s.adapter.Engine(),
			Op:       "rebuild",
			Total:    report.Written + len(report.Failures),
			Failures: report.Failures,
		}
	}
	return nil
}

func (s *Swapper) discard(ctx context.Context, swapIdx *Index) {
	if err := s.adapter.DeleteIndex(context.WithoutCancel(ctx), swapIdx); err != nil {
		logger.Warnf(ctx, "failed to discard swap target %s: %v", swapIdx.PhysicalName(), err)
	}
}

func (s *Swapper) finish(ctx context.Context, idx *Index, opts SwapOptions, report *SwapReport, start time.Time) (*SwapReport, error) {
	report.Duration = time.Since(start)
	if !opts.Verify {
		return report, nil
	}
	count, err := s.adapter.GetDocumentCount(ctx, idx)
	if err != nil {
		return report, fmt.Errorf("failed to verify %s: %w", idx.Handle, err)
	}
	report.Count = count
	if count != int64(report.Written) {
		return report, fmt.Errorf("%w: %s holds %d documents, %d written", ErrVerification, idx.PhysicalName(), count, report.Written)
	}
	return report, nil
}

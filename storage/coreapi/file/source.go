// Package file implements a coreapi.TransactionSource backed by a local
// cache of node responses, falling through to a live source on a miss.
package file

import (
	"context"
	"errors"

	"github.com/ledgerindex/gateway/cache/kvstore"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

var errNoLiveSource = errors.New("cache miss and no live source configured")

// CachedSource serves committed transaction pages from a pogreb cache.
// Pages are keyed by the exact request, so replaying a ledger range with
// the same batch size never touches the node.
type CachedSource struct {
	db     kvstore.KVStore
	source coreapi.TransactionSource
}

var _ coreapi.TransactionSource = (*CachedSource)(nil)

// NewCachedSource opens the cache in cacheDir. source may be nil, in which
// case only cached pages can be served.
func NewCachedSource(cacheDir string, source coreapi.TransactionSource, logger *log.Logger) (*CachedSource, error) {
	db, err := kvstore.OpenKVStore(
		logger.WithModule("cached_source"),
		"transactions",
		cacheDir,
		common.Ptr(metrics.NewDefaultExtensionMetrics("cached_source")),
	)
	if err != nil {
		return nil, err
	}
	return &CachedSource{db: db, source: source}, nil
}

func (s *CachedSource) Close() error {
	var firstErr error
	if s.source != nil {
		firstErr = s.source.Close()
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *CachedSource) Transactions(ctx context.Context, fromStateVersion int64, limit int) ([]coreapi.CommittedTransaction, error) {
	return kvstore.GetSliceFromCacheOrCall(
		s.db, false,
		kvstore.GenerateCacheKey("Transactions", fromStateVersion, limit),
		func() ([]coreapi.CommittedTransaction, error) {
			if s.source == nil {
				return nil, errNoLiveSource
			}
			return s.source.Transactions(ctx, fromStateVersion, limit)
		},
	)
}

// LatestStateVersion is never cached.
func (s *CachedSource) LatestStateVersion(ctx context.Context) (int64, error) {
	if s.source == nil {
		return 0, errNoLiveSource
	}
	return s.source.LatestStateVersion(ctx)
}

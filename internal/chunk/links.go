package chunk

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/databricks/databricks-sql-stream/backend"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	"github.com/databricks/databricks-sql-stream/internal/metrics"
	"github.com/databricks/databricks-sql-stream/logger"
	"golang.org/x/sync/singleflight"
)

// LinkService supplies valid fetch locations for the chunks of one result set.
// Concurrent requests for the same chunk share a single backend call.
type LinkService struct {
	handle          backend.Handle
	fetcher         backend.LinkFetcher
	chunks          []*Chunk
	minTimeToExpiry time.Duration
	metrics         *metrics.Collector
	log             *logger.DBSQLLogger

	// context for backend calls; carries the ids of the result set but is
	// not cancelled by Shutdown so in-flight calls can complete
	ctx context.Context

	group singleflight.Group

	mu     sync.RWMutex
	closed bool

	// replaced in tests
	now func() time.Time
}

func NewLinkService(
	ctx context.Context,
	h backend.Handle,
	fetcher backend.LinkFetcher,
	chunks []*Chunk,
	minTimeToExpiry time.Duration,
	m *metrics.Collector,
	log *logger.DBSQLLogger,
) *LinkService {
	if log == nil {
		log = logger.Logger
	}
	return &LinkService{
		handle:          h,
		fetcher:         fetcher,
		chunks:          chunks,
		minTimeToExpiry: minTimeToExpiry,
		metrics:         m,
		log:             log,
		ctx:             context.WithoutCancel(ctx),
		now:             time.Now,
	}
}

// EnsureLink returns an unexpired link for chunk index, resolving one from the
// backend when the chunk has none or its link is about to expire.
// Resolution failures are returned to the caller and are not retried.
func (ls *LinkService) EnsureLink(ctx context.Context, index int) (backend.ChunkLink, error) {
	c, err := ls.chunk(ctx, index)
	if err != nil {
		return backend.ChunkLink{}, err
	}

	if l, ok := c.Link(); ok && !ls.isExpired(l) {
		return l, nil
	}

	return ls.resolve(ctx, index, "")
}

// Refresh resolves a new link for chunk index after stale was rejected by
// storage. If another caller already replaced stale the current link is returned.
func (ls *LinkService) Refresh(ctx context.Context, index int, stale backend.ChunkLink) (backend.ChunkLink, error) {
	if _, err := ls.chunk(ctx, index); err != nil {
		return backend.ChunkLink{}, err
	}
	return ls.resolve(ctx, index, stale.URL)
}

// Shutdown stops new resolution calls. Calls already in flight complete.
func (ls *LinkService) Shutdown() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.closed = true
}

func (ls *LinkService) isShutdown() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.closed
}

func (ls *LinkService) chunk(ctx context.Context, index int) (*Chunk, error) {
	if index < 0 || index >= len(ls.chunks) {
		return nil, dbsqlerrint.NewDriverError(ctx, fmt.Sprintf("%s: chunk %d", dbsqlerrint.ErrLinkResolution, index), dbsqlerr.ErrInvalidPosition)
	}
	return ls.chunks[index], nil
}

// isExpired treats links expiring within minTimeToExpiry as already expired.
func (ls *LinkService) isExpired(l backend.ChunkLink) bool {
	if l.Expiry.IsZero() {
		return false
	}
	return !ls.now().Add(ls.minTimeToExpiry).Before(l.Expiry)
}

func (ls *LinkService) resolve(ctx context.Context, index int, staleURL string) (backend.ChunkLink, error) {
	if ls.isShutdown() {
		return backend.ChunkLink{}, dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrLinkResolution, dbsqlerr.ErrLinkServiceShutdown)
	}

	ch := ls.group.DoChan(strconv.Itoa(index), func() (any, error) {
		c := ls.chunks[index]

		// a call that finished while this one was waiting to start may
		// already have attached a usable link
		if l, ok := c.Link(); ok && l.URL != staleURL && !ls.isExpired(l) {
			return l, nil
		}

		ls.log.Debug().Msgf("databricks: resolving link for chunk %d", index)
		links, err := ls.fetcher.GetChunkLinks(ls.ctx, ls.handle, index)
		ls.metrics.LinkResolution(err)
		if err != nil {
			ls.log.Err(err).Msgf("databricks: link resolution failed for chunk %d", index)
			return nil, dbsqlerrint.NewRequestError(ls.ctx, fmt.Sprintf("%s %d", dbsqlerrint.ErrLinkResolution, index), err)
		}

		var found *backend.ChunkLink
		for i := range links {
			l := links[i]
			if l.ChunkIndex < 0 || l.ChunkIndex >= len(ls.chunks) {
				ls.log.Warn().Msgf("databricks: ignoring link for unknown chunk %d", l.ChunkIndex)
				continue
			}
			ls.chunks[l.ChunkIndex].SetLink(l)
			if l.ChunkIndex == index {
				found = &l
			}
		}

		if found == nil {
			return nil, dbsqlerrint.NewRequestError(ls.ctx, fmt.Sprintf("%s %d", dbsqlerrint.ErrLinkResolution, index),
				fmt.Errorf("backend returned %d links, none for chunk %d", len(links), index))
		}
		return *found, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return backend.ChunkLink{}, res.Err
		}
		return res.Val.(backend.ChunkLink), nil
	case <-ctx.Done():
		return backend.ChunkLink{}, ctx.Err()
	}
}

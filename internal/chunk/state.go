// Package chunk downloads the chunks of a link addressed result set ahead of
// the reader while keeping a bounded number of them in memory.
package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/internal/decode"
)

// State is the download state of a chunk.
//
//	Pending -> LinkResolved -> Downloading -> Succeeded | Failed | FailedAborted
//
// Failed may also be reached from Pending when no link can be resolved.
// FailedAborted is reached from any non terminal state when the chunk is
// abandoned while its download is outstanding.
type State int

const (
	Pending State = iota
	LinkResolved
	Downloading
	Succeeded
	Failed
	FailedAborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case LinkResolved:
		return "LINK_RESOLVED"
	case Downloading:
		return "DOWNLOADING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case FailedAborted:
		return "FAILED_ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == FailedAborted
}

// Descriptor is the immutable identity of a chunk.
type Descriptor struct {
	Index     int
	RowOffset int64
	RowCount  int64
	ByteCount int64
	Codec     backend.CompressionCodec
}

// Chunk is one chunk's state. Transitions are guarded by the chunk's own
// mutex and the move into a terminal state closes Done, which wakes only
// the goroutines waiting for this chunk.
type Chunk struct {
	Descriptor

	mu       sync.Mutex
	state    State
	link     *backend.ChunkLink
	rows     decode.RowSet
	err      error
	attempts int
	released bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func newChunk(d Descriptor) *Chunk {
	return &Chunk{Descriptor: d, done: make(chan struct{})}
}

func (c *Chunk) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the chunk reaches a terminal state.
func (c *Chunk) Done() <-chan struct{} {
	return c.done
}

// Link returns the chunk's current fetch location.
func (c *Chunk) Link() (backend.ChunkLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return backend.ChunkLink{}, false
	}
	return *c.link, true
}

// SetLink attaches or replaces the fetch location. A Pending chunk moves to
// LinkResolved. Returns false once the chunk is terminal.
func (c *Chunk) SetLink(l backend.ChunkLink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return false
	}
	c.link = &l
	if c.state == Pending {
		c.state = LinkResolved
	}
	return true
}

// StartDownload moves a LinkResolved chunk to Downloading.
func (c *Chunk) StartDownload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case LinkResolved:
		c.state = Downloading
		return nil
	case Downloading:
		return nil
	default:
		return fmt.Errorf("chunk %d: cannot start download in state %v", c.Index, c.state)
	}
}

// Succeed stores the decoded rows. If the chunk was already terminal (it was
// aborted while downloading) the rows are released and false is returned.
func (c *Chunk) Succeed(rows decode.RowSet, attempts int) bool {
	c.mu.Lock()
	if c.state.Terminal() || c.released {
		c.mu.Unlock()
		rows.Release()
		return false
	}
	c.state = Succeeded
	c.rows = rows
	c.attempts = attempts
	c.mu.Unlock()

	close(c.done)
	return true
}

// Fail records err as the chunk's permanent failure.
func (c *Chunk) Fail(err error, attempts int) bool {
	return c.finish(Failed, err, attempts)
}

// Abort moves a non terminal chunk to FailedAborted and cancels its download.
func (c *Chunk) Abort(err error) bool {
	if c.finish(FailedAborted, err, 0) {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	}
	return false
}

func (c *Chunk) finish(s State, err error, attempts int) bool {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = s
	c.err = err
	if attempts > 0 {
		c.attempts = attempts
	}
	c.mu.Unlock()

	close(c.done)
	return true
}

// Result returns the rows of a Succeeded chunk or the error of a failed one.
// It must only be called after Done is closed.
func (c *Chunk) Result() (decode.RowSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows, c.err
}

// Attempts is the number of download attempts made for the chunk.
func (c *Chunk) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Chunk) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
}

// Release frees the chunk's payload. A chunk that is not yet terminal is
// aborted with abortErr first. Only the first call has any effect; it
// returns true.
func (c *Chunk) Release(abortErr error) bool {
	c.Abort(abortErr)

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return false
	}
	c.released = true
	rows := c.rows
	c.rows = nil
	cancel := c.cancel
	c.mu.Unlock()

	if rows != nil {
		rows.Release()
	}
	if cancel != nil {
		cancel()
	}
	return true
}

// Released reports whether Release has been called.
func (c *Chunk) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

package core

import (
	"sync"
	"time"
)

// Conversion is one run of sample, transform and serialize for a session.
// Progress is broadcast to subscribers; the listener channels are closed
// when the conversion finishes.
type Conversion struct {
	ID        string
	SessionID string
	FileName  string
	Options   ConvertOptions
	StartedAt time.Time

	mu       sync.RWMutex
	status   ConversionStatus
	progress Progress
	artifact *Artifact
	err      error
	rows     int
	sampled  bool
	duration time.Duration

	done       chan struct{}
	listenerMu sync.Mutex
	listeners  []chan Progress
}

func newConversion(id string, session *Session, opts ConvertOptions, now time.Time) *Conversion {
	return &Conversion{
		ID:        id,
		SessionID: session.ID,
		FileName:  session.File.Name,
		Options:   opts,
		StartedAt: now,
		status:    StatusRunning,
		progress:  Progress{Message: "Converting data to JSON..."},
		done:      make(chan struct{}),
	}
}

// Status returns the lifecycle state.
func (c *Conversion) Status() ConversionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Progress returns the latest progress update.
func (c *Conversion) Progress() Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// Artifact returns the result, or nil unless the conversion completed.
func (c *Conversion) Artifact() *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.artifact
}

// Err returns the failure, or nil.
func (c *Conversion) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Done is closed when the conversion finishes.
func (c *Conversion) Done() <-chan struct{} { return c.done }

// ConversionSnapshot is the JSON status served by /api/conversions/{id}.
type ConversionSnapshot struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"sessionId"`
	FileName    string           `json:"fileName"`
	Orientation Orientation      `json:"orientation"`
	Status      ConversionStatus `json:"status"`
	Progress    Progress         `json:"progress"`
	Rows        int              `json:"rows"`
	Sampled     bool             `json:"sampled"`
	DownloadAs  string           `json:"downloadAs,omitempty"`
	OutputBytes int              `json:"outputBytes,omitempty"`
	Truncated   bool             `json:"truncated"`
	DurationMs  int64            `json:"durationMs"`
	Error       *UserMessage     `json:"error,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
}

// Snapshot returns a consistent copy of the conversion state.
func (c *Conversion) Snapshot() ConversionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := ConversionSnapshot{
		ID:          c.ID,
		SessionID:   c.SessionID,
		FileName:    c.FileName,
		Orientation: c.Options.Orientation,
		Status:      c.status,
		Progress:    c.progress,
		Rows:        c.rows,
		Sampled:     c.sampled,
		DurationMs:  c.duration.Milliseconds(),
		StartedAt:   c.StartedAt,
	}
	if c.artifact != nil {
		snap.DownloadAs = c.artifact.FileName
		snap.OutputBytes = c.artifact.Size()
		snap.Truncated = c.artifact.Truncated
	}
	if c.err != nil {
		msg := MapError(c.err)
		snap.Error = &msg
	}
	return snap
}

// subscribe registers a listener. The current progress is delivered first;
// a finished conversion gets its final update and a closed channel.
func (c *Conversion) subscribe() <-chan Progress {
	ch := make(chan Progress, 16)

	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	ch <- c.Progress()
	select {
	case <-c.done:
		close(ch)
	default:
		c.listeners = append(c.listeners, ch)
	}
	return ch
}

// setInput records the size of the table being converted.
func (c *Conversion) setInput(rows int, sampled bool) {
	c.mu.Lock()
	c.rows = rows
	c.sampled = sampled
	c.mu.Unlock()
}

// setProgress records p and sends it to every listener.
func (c *Conversion) setProgress(p Progress) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
	c.notifyProgress(p)
}

func (c *Conversion) notifyProgress(p Progress) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	for _, ch := range c.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish stores the outcome, delivers the final update and closes listeners.
func (c *Conversion) finish(artifact *Artifact, err error, elapsed time.Duration) {
	c.mu.Lock()
	if c.status != StatusRunning {
		c.mu.Unlock()
		return
	}
	c.duration = elapsed
	if err != nil {
		c.status = StatusFailed
		c.err = err
		c.progress = Progress{Fraction: c.progress.Fraction, Message: MapError(err).Message, Done: true, Error: FormatUserError(err)}
	} else {
		c.status = StatusComplete
		c.artifact = artifact
		c.progress = Progress{Fraction: 1, Message: MessageComplete, Done: true}
	}
	final := c.progress
	c.mu.Unlock()

	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	for _, ch := range c.listeners {
		// The final update must not be dropped; make room if the buffer is full.
		select {
		case ch <- final:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- final
		}
		close(ch)
	}
	c.listeners = nil
	close(c.done)
}

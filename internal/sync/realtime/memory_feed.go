package realtime

import (
	"context"
	"sync"

	"github.com/colabottles/basketbuddy/internal/models"
)

const memoryBuffer = 256

// MemoryFeed is an in-process Feed. Publish delivers to every open channel
// of the event's list.
type MemoryFeed struct {
	mu       sync.Mutex
	channels map[string]map[*memoryChannel]struct{}
	opened   int
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{channels: make(map[string]map[*memoryChannel]struct{})}
}

type memoryChannel struct {
	feed   *MemoryFeed
	listID string
	events chan models.ChangeEvent
	once   sync.Once
}

func (c *memoryChannel) Events() <-chan models.ChangeEvent { return c.events }

func (c *memoryChannel) Close() error {
	c.once.Do(func() {
		c.feed.mu.Lock()
		delete(c.feed.channels[c.listID], c)
		if len(c.feed.channels[c.listID]) == 0 {
			delete(c.feed.channels, c.listID)
		}
		close(c.events)
		c.feed.mu.Unlock()
	})
	return nil
}

// Open implements Feed.
func (f *MemoryFeed) Open(ctx context.Context, listID string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &memoryChannel{
		feed:   f,
		listID: listID,
		events: make(chan models.ChangeEvent, memoryBuffer),
	}
	f.mu.Lock()
	if f.channels[listID] == nil {
		f.channels[listID] = make(map[*memoryChannel]struct{})
	}
	f.channels[listID][c] = struct{}{}
	f.opened++
	f.mu.Unlock()
	return c, nil
}

// Publish delivers ev to the list's open channels. A full channel drops the
// event.
func (f *MemoryFeed) Publish(ev models.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.channels[ev.ListID] {
		select {
		case c.events <- ev:
		default:
		}
	}
}

// OpenCount returns how many channels are currently open for listID.
func (f *MemoryFeed) OpenCount(listID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels[listID])
}

// Opened returns how many channels were ever opened.
func (f *MemoryFeed) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

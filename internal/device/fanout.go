package device

import (
	"context"
	"sync"
)

// DefaultNotificationBuffer is the per-consumer queue length of a Fanout.
const DefaultNotificationBuffer = 128

// Fanout delivers characteristic updates to every open Notifications sequence
// of one peripheral. A slow consumer loses its oldest queued updates rather
// than stalling the BLE callback that publishes them.
type Fanout struct {
	mu     sync.Mutex
	subs   map[*fanoutSub]struct{}
	buffer int
}

type fanoutSub struct {
	ch   chan Notification
	gone chan struct{}
}

// NewFanout creates a Fanout whose consumers buffer up to buffer updates.
func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	return &Fanout{
		subs:   make(map[*fanoutSub]struct{}),
		buffer: buffer,
	}
}

// Subscribe opens a new sequence. It is closed by CloseAll or when ctx ends.
func (f *Fanout) Subscribe(ctx context.Context) <-chan Notification {
	sub := &fanoutSub{
		ch:   make(chan Notification, f.buffer),
		gone: make(chan struct{}),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.remove(sub)
		case <-sub.gone:
		}
	}()

	return sub.ch
}

// Publish copies value and hands it to every open sequence without blocking.
func (f *Fanout) Publish(char string, value []byte) {
	n := Notification{
		Characteristic: NormalizeUUID(char),
		Value:          append([]byte(nil), value...),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs {
		select {
		case sub.ch <- n:
		default:
			// Queue full, drop the oldest
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- n:
			default:
			}
		}
	}
}

// CloseAll ends every open sequence. Later Subscribe calls open new ones.
func (f *Fanout) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs {
		f.closeLocked(sub)
	}
}

// Len reports the number of open sequences.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fanout) remove(sub *fanoutSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; ok {
		f.closeLocked(sub)
	}
}

func (f *Fanout) closeLocked(sub *fanoutSub) {
	delete(f.subs, sub)
	close(sub.ch)
	close(sub.gone)
}

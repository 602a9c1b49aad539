package encoder

import (
	"sync"

	"github.com/NOT-REAL-GAMES/moviecap/codec"
)

// The worker queues: lock plus condition variable, the Go shape of an SRW
// lock with a wake event. FIFO order is what makes frame and packet
// submission order reach the codec and the container unchanged. Queues are
// unbounded by policy: the producer path is slower than the consumer in
// steady state, so depth is naturally bounded by the incoming frame rate.

// frameItem is one unit of frame-encode work. A flush item is the null-frame
// sentinel for its media type.
type frameItem struct {
	video   *codec.VideoFrame
	audio   *codec.AudioFrame
	isAudio bool
	flush   bool
}

type frameQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []frameItem
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *frameQueue) push(item frameItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *frameQueue) pop() frameItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// packetQueue carries compressed packets to the mux worker. A nil packet is
// an ordinary queue item serving as the flush sentinel.
type packetQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*codec.Packet
	// count tracks length separately since a popped nil is
	// indistinguishable from "empty" to callers.
	count int
}

func newPacketQueue() *packetQueue {
	q := &packetQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *packetQueue) push(pkt *codec.Packet) {
	q.mu.Lock()
	q.items = append(q.items, pkt)
	q.count++
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *packetQueue) pop() *codec.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 {
		q.cond.Wait()
	}
	pkt := q.items[0]
	q.items = q.items[1:]
	q.count--
	return pkt
}

// batchQueue feeds raw sample batches to the audio-resample worker; nil
// terminates.
type batchQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items [][]int16
}

func newBatchQueue() *batchQueue {
	q := &batchQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *batchQueue) push(batch []int16) {
	q.mu.Lock()
	q.items = append(q.items, batch)
	q.mu.Unlock()
	q.cond.Signal()
}

// close enqueues the nil terminator.
func (q *batchQueue) close() {
	q.mu.Lock()
	q.items = append(q.items, nil)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *batchQueue) pop() []int16 {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	batch := q.items[0]
	q.items = q.items[1:]
	return batch
}

// framePool is the recycled-frames bag: order-free, exists to avoid
// reallocating large plane buffers every frame.
type framePool struct {
	mu    sync.Mutex
	items []*codec.VideoFrame
}

func (p *framePool) get() *codec.VideoFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return nil
	}
	f := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	return f
}

func (p *framePool) put(f *codec.VideoFrame) {
	p.mu.Lock()
	p.items = append(p.items, f)
	p.mu.Unlock()
}

type audioFramePool struct {
	mu    sync.Mutex
	items []*codec.AudioFrame
}

func (p *audioFramePool) get() *codec.AudioFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return nil
	}
	f := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	return f
}

func (p *audioFramePool) put(f *codec.AudioFrame) {
	p.mu.Lock()
	p.items = append(p.items, f)
	p.mu.Unlock()
}

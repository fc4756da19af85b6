package encoder

import (
	"fmt"
	"sync"
)

// Block is a run of interleaved 16-bit samples in a single format. It is not
// modified once queued.
type Block struct {
	Samples []int16
	Format
}

type node struct {
	next  *node
	block Block
}

// Queue is an unbounded FIFO of sample blocks with a single consumer.
type Queue struct {
	mu     sync.Mutex
	head   *node
	tail   *node
	length int

	// ready holds at most one pending wakeup for the consumer.
	ready chan struct{}

	// active reports whether anyone is listening. Blocks submitted while it
	// returns false are dropped.
	active func() bool
}

// NewQueue creates a queue. active may be nil, in which case every valid block
// is queued.
func NewQueue(active func() bool) *Queue {
	return &Queue{
		ready:  make(chan struct{}, 1),
		active: active,
	}
}

// Enqueue copies count samples per channel from samples into a new block.
// Unsupported formats are rejected with ErrUnsupportedFormat. When nobody is
// listening the block is silently dropped and Enqueue returns nil.
func (q *Queue) Enqueue(samples []int16, count, channels, sampleRate int) error {
	if err := ValidateFormat(channels, sampleRate); err != nil {
		metricBlocksRejected.WithLabelValues("format").Inc()
		return err
	}

	total := count * channels
	if count < 0 || total > len(samples) {
		metricBlocksRejected.WithLabelValues("format").Inc()
		return fmt.Errorf("%w: %d samples per channel requested, %d values supplied", ErrUnsupportedFormat, count, len(samples))
	}

	if q.active != nil && !q.active() {
		metricBlocksRejected.WithLabelValues("no_listeners").Inc()
		return nil
	}

	if total == 0 {
		return nil
	}

	data := make([]int16, total)
	copy(data, samples)

	q.Push(Block{
		Samples: data,
		Format:  Format{Channels: channels, SampleRate: sampleRate},
	})

	return nil
}

// Push appends b to the tail and wakes the consumer.
func (q *Queue) Push(b Block) {
	n := &node{block: b}

	q.mu.Lock()
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.length++
	metricQueueBlocks.Inc()
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Peek returns the head block without removing it.
func (q *Queue) Peek() (Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil {
		return Block{}, false
	}
	return q.head.block, true
}

// Pop removes and returns the head block.
func (q *Queue) Pop() (Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.head
	if n == nil {
		return Block{}, false
	}

	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--
	metricQueueBlocks.Dec()

	return n.block, true
}

// Len returns the number of queued blocks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Ready is signalled after a Push. The consumer must re-check the queue after
// every wakeup since one signal may stand for several blocks.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

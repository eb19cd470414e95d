package causez

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// idBatch is how many ids one crypto/rand read yields.
const idBatch = 64

// IDPool hands out task and event ids ahead of demand. Zero is reserved to
// mean "no id" and never leaves the pool, whatever the source returns.
type IDPool struct {
	source    func() int64
	ids       chan int64
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewIDPool creates a pool holding up to capacity ids drawn from source.
// A nil source reads random ids from crypto/rand in batches.
func NewIDPool(capacity int, source func() int64) *IDPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &IDPool{
		source: source,
		ids:    make(chan int64, capacity),
		stopCh: make(chan struct{}),
	}
	go p.refill()
	return p
}

// Get returns a non-zero id, generating one inline when the pool is empty
// or closed.
func (p *IDPool) Get() int64 {
	select {
	case id := <-p.ids:
		return id
	default:
	}
	if p.source == nil {
		return RandomID()
	}
	for {
		if id := p.source(); id != 0 {
			return id
		}
	}
}

func (p *IDPool) refill() {
	batch := make([]int64, idBatch)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		n := p.fill(batch)
		for _, id := range batch[:n] {
			select {
			case p.ids <- id:
			case <-p.stopCh:
				return
			}
		}
	}
}

// fill writes non-zero ids into dst and returns how many it wrote.
func (p *IDPool) fill(dst []int64) int {
	if p.source == nil {
		return randomIDs(dst)
	}
	n := 0
	for range dst {
		if id := p.source(); id != 0 {
			dst[n] = id
			n++
		}
	}
	return n
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.closeOnce.Do(func() { close(p.stopCh) })
}

// RandomID returns a random non-zero 64-bit id.
func RandomID() int64 {
	var one [1]int64
	for randomIDs(one[:]) == 0 {
	}
	return one[0]
}

// randomIDs fills dst from a single crypto/rand read, dropping zeros, and
// returns how many ids it wrote. On a read failure it falls back to the
// wall clock.
func randomIDs(dst []int64) int {
	buf := make([]byte, 8*len(dst))
	if _, err := rand.Read(buf); err != nil {
		if id := time.Now().UnixNano(); id != 0 && len(dst) > 0 {
			dst[0] = id
			return 1
		}
		return 0
	}
	n := 0
	for i := range dst {
		if id := int64(binary.BigEndian.Uint64(buf[8*i:])); id != 0 {
			dst[n] = id
			n++
		}
	}
	return n
}

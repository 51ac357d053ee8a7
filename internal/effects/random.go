package effects

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// Random is the source effects draw from. Hardware runs use Entropy; anything
// that needs repeatable frames uses a seeded XorShift32.
type Random interface {
	Uint32() uint32
}

const DefaultSeed = 12345

// XorShift32 is a small deterministic generator. It is not safe for
// concurrent use.
type XorShift32 struct {
	x uint32
}

func NewXorShift32(seed uint32) *XorShift32 {
	r := &XorShift32{}
	r.Seed(seed)
	return r
}

// Seed restarts the sequence. A zero seed is replaced with 1.
func (r *XorShift32) Seed(seed uint32) {
	if seed == 0 {
		seed = 1
	}
	r.x = seed
}

func (r *XorShift32) Uint32() uint32 {
	x := r.x
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.x = x
	return x
}

// Entropy reads the operating system's random source, buffered to keep the
// per-pixel draws cheap.
type Entropy struct {
	mu  sync.Mutex
	buf [256]byte
	off int
}

func NewEntropy() *Entropy {
	return &Entropy{off: 256}
}

func (e *Entropy) Uint32() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.off+4 > len(e.buf) {
		// crypto/rand.Read never returns an error on supported platforms.
		_, _ = rand.Read(e.buf[:])
		e.off = 0
	}
	v := binary.LittleEndian.Uint32(e.buf[e.off:])
	e.off += 4
	return v
}

func randByte(r Random) uint8 { return uint8(r.Uint32()) }

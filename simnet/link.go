// Package simnet provides an in-memory lossy datagram link for testing the
// pepperlink protocol without sockets. It drops, duplicates and reorders
// datagrams deterministically from a seed or an explicit rule.
package simnet

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pepperlink/transport"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the number of datagrams the link holds before it starts
// discarding, like a full socket receive buffer.
const DefaultBuffer = 4096

// Config controls link impairments. Rates are probabilities in [0, 1].
type Config struct {
	DropRate      float64
	DuplicateRate float64
	// ReorderRate holds a datagram back and releases it after the next one.
	ReorderRate float64
	Seed        uint64
	Buffer      int
	// Drop, when set, decides drops instead of DropRate. index counts every
	// datagram written so far, starting at zero.
	Drop func(index int, datagram []byte) bool
}

// Outcome is what happened to one written datagram.
type Outcome int

const (
	Delivered Outcome = iota
	Dropped
	Duplicated
	Reordered
	Overflowed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	case Duplicated:
		return "duplicated"
	case Reordered:
		return "reordered"
	case Overflowed:
		return "overflowed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DeliveryRecord represents one datagram written to the link.
type DeliveryRecord struct {
	Index   int
	Size    int
	Outcome Outcome
}

// Link is a one-way datagram link. The sending side uses Write; the
// receiving side uses ReadDatagram.
type Link struct {
	cfg Config
	rng *rand.Rand
	in  chan []byte

	mu      sync.Mutex
	log     []DeliveryRecord
	held    []byte
	written int
	closed  bool
	done    chan struct{}
}

// linkAddr identifies the simulated peer.
type linkAddr struct{}

func (linkAddr) Network() string { return "simnet" }
func (linkAddr) String() string  { return "simnet" }

// NewLink creates a link with the given impairments.
func NewLink(cfg Config) *Link {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	logrus.WithFields(logrus.Fields{
		"function":  "NewLink",
		"drop":      cfg.DropRate,
		"duplicate": cfg.DuplicateRate,
		"reorder":   cfg.ReorderRate,
		"seed":      cfg.Seed,
	}).Debug("Creating simulated link")

	return &Link{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		in:   make(chan []byte, cfg.Buffer),
		done: make(chan struct{}),
	}
}

// Write sends one datagram through the impairments. It never blocks.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, transport.ErrClosed
	}

	index := l.written
	l.written++
	datagram := append([]byte(nil), p...)

	if l.dropped(index, datagram) {
		l.record(index, len(p), Dropped)
		return len(p), nil
	}

	if l.held == nil && l.cfg.ReorderRate > 0 && l.rng.Float64() < l.cfg.ReorderRate {
		l.held = datagram
		l.record(index, len(p), Reordered)
		return len(p), nil
	}

	outcome := Delivered
	if !l.push(datagram) {
		outcome = Overflowed
	}
	if l.cfg.DuplicateRate > 0 && l.rng.Float64() < l.cfg.DuplicateRate {
		l.push(datagram)
		outcome = Duplicated
	}
	if l.held != nil {
		l.push(l.held)
		l.held = nil
	}
	l.record(index, len(p), outcome)
	return len(p), nil
}

func (l *Link) dropped(index int, datagram []byte) bool {
	if l.cfg.Drop != nil {
		return l.cfg.Drop(index, datagram)
	}
	return l.cfg.DropRate > 0 && l.rng.Float64() < l.cfg.DropRate
}

func (l *Link) push(datagram []byte) bool {
	select {
	case l.in <- datagram:
		return true
	default:
		return false
	}
}

func (l *Link) record(index, size int, outcome Outcome) {
	l.log = append(l.log, DeliveryRecord{Index: index, Size: size, Outcome: outcome})
}

// Flush releases a datagram held back for reordering.
func (l *Link) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held != nil {
		l.push(l.held)
		l.held = nil
	}
}

// ReadDatagram returns the next datagram, transport.ErrTimeout when none
// arrives within timeout and transport.ErrClosed once the link is closed
// and drained.
func (l *Link) ReadDatagram(timeout time.Duration) ([]byte, net.Addr, error) {
	select {
	case d := <-l.in:
		return d, linkAddr{}, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-l.in:
		return d, linkAddr{}, nil
	case <-l.done:
		return nil, nil, transport.ErrClosed
	case <-timer.C:
		return nil, nil, transport.ErrTimeout
	}
}

// Close stops the link. Pending datagrams can still be read.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}

// DeliveryLog returns a copy of the delivery records.
func (l *Link) DeliveryLog() []DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DeliveryRecord(nil), l.log...)
}

// Count returns how many datagrams had the given outcome.
func (l *Link) Count(o Outcome) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.CountBy(l.log, func(r DeliveryRecord) bool { return r.Outcome == o })
}

// Package hw is the thin boundary between managers and the board. On a
// real device the board hands out GPIO-backed pins; everywhere else the
// in-memory board lets the same manager code run and be tested.
package hw

import (
	"fmt"
	"sync"
)

// Pin is one digital output line.
type Pin interface {
	Set(high bool) error
	Get() (bool, error)
	Toggle() error
}

// Board hands out pins by number.
type Board interface {
	Pin(id int) (Pin, error)
}

// MemoryBoard is a Board whose pins only exist in memory. Pins are
// created on first use and remembered, so tests can inspect them after
// the manager under test ran.
type MemoryBoard struct {
	mu   sync.Mutex
	pins map[int]*MemoryPin
}

// NewMemoryBoard creates an empty in-memory board.
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{pins: make(map[int]*MemoryPin)}
}

// Pin returns the in-memory pin with the given id, creating it if needed.
// Negative ids mean "not wired" in settings and are rejected.
func (b *MemoryBoard) Pin(id int) (Pin, error) {
	if id < 0 {
		return nil, fmt.Errorf("pin %d not wired", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[id]
	if !ok {
		p = &MemoryPin{}
		b.pins[id] = p
	}
	return p, nil
}

// Inspect returns the pin with the given id without creating it.
func (b *MemoryBoard) Inspect(id int) (*MemoryPin, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[id]
	return p, ok
}

// MemoryPin records its level and how often it was written.
type MemoryPin struct {
	mu     sync.Mutex
	high   bool
	writes int
}

func (p *MemoryPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
	p.writes++
	return nil
}

func (p *MemoryPin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, nil
}

func (p *MemoryPin) Toggle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = !p.high
	p.writes++
	return nil
}

// Writes returns how many times the pin level was set.
func (p *MemoryPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

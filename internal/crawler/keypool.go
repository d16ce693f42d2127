package crawler

import "fmt"

// KeyPool is a cyclic cursor over API credentials.
// A pool is owned by a single batch worker and is not safe for concurrent use.
type KeyPool struct {
	keys   []Credential
	cursor int
}

// NewKeyPool builds a pool positioned at start (mod len(keys)).
func NewKeyPool(keys []Credential, start int) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: key pool requires at least one credential", ErrConfiguration)
	}
	cursor := start % len(keys)
	if cursor < 0 {
		cursor += len(keys)
	}
	return &KeyPool{keys: keys, cursor: cursor}, nil
}

// Current returns the credential at the cursor.
func (p *KeyPool) Current() Credential {
	return p.keys[p.cursor]
}

// Advance moves to the next credential and returns it.
func (p *KeyPool) Advance() Credential {
	p.cursor = (p.cursor + 1) % len(p.keys)
	return p.Current()
}

// Len returns the number of credentials in the pool.
func (p *KeyPool) Len() int {
	return len(p.keys)
}

package entry

// Pool owns the entries vended for one per-root index. Containers and search
// views only borrow entries; the pool is the unit of lifetime, so an entry is
// valid for as long as its pool (and therefore its index) is referenced.
type Pool struct {
	kind    Kind
	entries []*Entry
}

// NewPool creates a pool vending entries of a single kind.
func NewPool(kind Kind) *Pool {
	return &Pool{kind: kind}
}

// Alloc creates a new entry owned by the pool.
func (p *Pool) Alloc(name string, parent *Entry) *Entry {
	e := New(p.kind, name, parent)
	p.entries = append(p.entries, e)
	return e
}

// Adopt transfers an already created entry into the pool.
func (p *Pool) Adopt(e *Entry) {
	p.entries = append(p.entries, e)
}

// Len returns the number of entries vended so far.
func (p *Pool) Len() int { return len(p.entries) }

// Entries returns the pool's backing slice. Callers must not mutate it.
func (p *Pool) Entries() []*Entry { return p.entries }

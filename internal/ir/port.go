package ir

// Port carries a value between reactions within one tag.
//
// A port is written by at most one reaction per tag, and readers sit at
// strictly higher levels, so the level barrier orders every write before
// every read.
type Port struct {
	Name    string
	Reactor string

	// Reactions are triggered whenever the port becomes present.
	Reactions []*Reaction
	// Readers use the port as a source without being triggered by it.
	// They still run after the writer.
	Readers []*Reaction
	// Downstream ports receive the value through connections.
	Downstream []*Port

	value   any
	present bool
}

// Get returns the value and whether the port is present at the current tag.
func (p *Port) Get() (any, bool) {
	return p.value, p.present
}

// IsPresent reports whether the port was set at the current tag.
func (p *Port) IsPresent() bool {
	return p.present
}

// Write sets v on p and, transitively, on every connected port. Each port
// marked present is appended to marked, which is returned.
func (p *Port) Write(v any, marked []*Port) []*Port {
	p.value = v
	p.present = true
	marked = append(marked, p)
	for _, d := range p.Downstream {
		marked = d.Write(v, marked)
	}
	return marked
}

// Reset clears presence and drops the value.
func (p *Port) Reset() {
	p.value = nil
	p.present = false
}

func (p *Port) String() string {
	return p.Name
}

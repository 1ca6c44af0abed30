package ir

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/tagflow/internal/tag"
)

// TriggerKind distinguishes the sources of events.
type TriggerKind int

const (
	KindTimer TriggerKind = iota + 1
	KindLogicalAction
	KindPhysicalAction
	KindStartup
	KindShutdown
)

func (k TriggerKind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindLogicalAction:
		return "logical"
	case KindPhysicalAction:
		return "physical"
	case KindStartup:
		return "startup"
	case KindShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SpacingPolicy decides what happens to an action event scheduled closer
// than MinSpacing to the previous one.
type SpacingPolicy int

const (
	// SpacingDefer moves the new event to the earliest permitted time.
	SpacingDefer SpacingPolicy = iota
	// SpacingDrop discards the new event.
	SpacingDrop
	// SpacingReplace overwrites the value of the pending event, or defers
	// when that event has already been processed.
	SpacingReplace
)

// ParseSpacingPolicy parses "defer", "drop" or "replace". The empty
// string is SpacingDefer.
func ParseSpacingPolicy(s string) (SpacingPolicy, error) {
	switch s {
	case "", "defer":
		return SpacingDefer, nil
	case "drop":
		return SpacingDrop, nil
	case "replace":
		return SpacingReplace, nil
	}
	return SpacingDefer, fmt.Errorf("unknown spacing policy %q", s)
}

func (p SpacingPolicy) String() string {
	switch p {
	case SpacingDrop:
		return "drop"
	case SpacingReplace:
		return "replace"
	}
	return "defer"
}

// Trigger owns the reactions activated when it fires.
//
// The exported runtime fields below the static ones are guarded by the
// environment mutex while the program runs.
type Trigger struct {
	Name    string
	Reactor string
	Kind    TriggerKind

	Reactions []*Reaction

	// Offset is the timer offset, or the minimum delay of an action.
	Offset int64
	// Period is the timer period; 0 fires once.
	Period int64
	// MinSpacing is the minimum logical distance between two action events.
	MinSpacing int64
	Policy     SpacingPolicy

	// LastTag is the tag of the most recently scheduled event.
	LastTag tag.Tag
	// Present and Token describe the value at the current tag.
	Present bool
	Token   *Token
}

// IsAction reports whether the trigger is a logical or physical action.
func (t *Trigger) IsAction() bool {
	return t.Kind == KindLogicalAction || t.Kind == KindPhysicalAction
}

// Value returns the token value carried at the current tag.
func (t *Trigger) Value() (any, bool) {
	if !t.Present || t.Token == nil {
		return nil, t.Present
	}
	return t.Token.Value, true
}

// ResetRuntime clears the per-run state.
func (t *Trigger) ResetRuntime() {
	t.LastTag = tag.NeverTag
	t.Present = false
	if t.Token != nil {
		t.Token.Release()
		t.Token = nil
	}
}

func (t *Trigger) String() string {
	return t.Name
}

// Token is a reference-counted value shared by the event that carries it
// and the reactions that read it.
type Token struct {
	Value any
	// OnFree runs once when the last reference is released.
	OnFree func(v any)

	refs atomic.Int32
}

// NewToken returns a token holding v with one reference.
func NewToken(v any) *Token {
	tok := &Token{Value: v}
	tok.refs.Store(1)
	return tok
}

// Retain adds a reference and returns the token.
func (tok *Token) Retain() *Token {
	tok.refs.Add(1)
	return tok
}

// Release drops a reference.
func (tok *Token) Release() {
	n := tok.refs.Add(-1)
	if n == 0 && tok.OnFree != nil {
		tok.OnFree(tok.Value)
	}
}

// Refs returns the current reference count.
func (tok *Token) Refs() int32 {
	return tok.refs.Load()
}

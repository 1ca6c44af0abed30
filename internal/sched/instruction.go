package sched

import (
	"fmt"

	"github.com/roach88/tagflow/internal/ir"
)

// Instruction is one opcode of a static worker program. The set is closed:
// the static scheduler switches over every concrete type below.
type Instruction interface {
	fmt.Stringer
	isInstruction()
}

// ADV advances a reactor's tag to hyperperiod base + Offset and resets its
// outputs.
type ADV struct {
	Reactor string
	Offset  int64
}

// EXE executes a reaction unconditionally.
type EXE struct {
	Reaction *ir.Reaction
}

// EIT executes a reaction only if it has been triggered.
type EIT struct {
	Reaction *ir.Reaction
}

// DU delays until physical time reaches start + hyperperiod base + Offset.
type DU struct {
	Offset int64
}

// WU waits until a counter reaches Value.
type WU struct {
	Counter int
	Value   uint64
}

// ADDI increments a counter by Value. Locked increments happen under the
// scheduler lock; unlocked ones use an atomic add.
type ADDI struct {
	Counter int
	Value   uint64
	Locked  bool
}

// BIT branches to Target when the hyperperiod base has reached the stop
// tag.
type BIT struct {
	Target int
}

// JMP jumps to Target.
type JMP struct {
	Target int
}

// SAC is a barrier across all workers. The last worker to arrive advances
// the hyperperiod base and clears every counter.
type SAC struct{}

// STP stops the worker.
type STP struct{}

func (ADV) isInstruction()  {}
func (EXE) isInstruction()  {}
func (EIT) isInstruction()  {}
func (DU) isInstruction()   {}
func (WU) isInstruction()   {}
func (ADDI) isInstruction() {}
func (BIT) isInstruction()  {}
func (JMP) isInstruction()  {}
func (SAC) isInstruction()  {}
func (STP) isInstruction()  {}

func (i ADV) String() string { return fmt.Sprintf("ADV %s, +%d", i.Reactor, i.Offset) }
func (i EXE) String() string { return "EXE " + i.Reaction.Name }
func (i EIT) String() string { return "EIT " + i.Reaction.Name }
func (i DU) String() string  { return fmt.Sprintf("DU +%d", i.Offset) }
func (i WU) String() string  { return fmt.Sprintf("WU c%d, %d", i.Counter, i.Value) }
func (i ADDI) String() string {
	if i.Locked {
		return fmt.Sprintf("ADDI.L c%d, %d", i.Counter, i.Value)
	}
	return fmt.Sprintf("ADDI c%d, %d", i.Counter, i.Value)
}
func (i BIT) String() string { return fmt.Sprintf("BIT %d", i.Target) }
func (i JMP) String() string { return fmt.Sprintf("JMP %d", i.Target) }
func (SAC) String() string   { return "SAC" }
func (STP) String() string   { return "STP" }

// StaticProgram is the precompiled schedule of every worker.
type StaticProgram struct {
	// Workers holds one instruction sequence per worker.
	Workers [][]Instruction
	// Counters is the number of shared counters.
	Counters int
	// Hyperperiod is the period of the schedule; SAC advances the base by it.
	Hyperperiod int64
}

// Validate checks that the program fits the worker count and that every
// operand is in range.
func (p *StaticProgram) Validate(workers int) error {
	if p == nil {
		return invalidInstruction("no static program")
	}
	if len(p.Workers) != workers {
		return invalidInstruction("program has %d worker sequences, pool has %d workers", len(p.Workers), workers)
	}
	if p.Hyperperiod < 0 {
		return invalidInstruction("negative hyperperiod %d", p.Hyperperiod)
	}
	for w, seq := range p.Workers {
		if len(seq) == 0 {
			return invalidInstruction("worker %d has an empty program", w)
		}
		for pc, inst := range seq {
			if err := p.validateInstruction(inst, len(seq)); err != nil {
				return invalidInstruction("worker %d, pc %d (%v): %v", w, pc, inst, err)
			}
		}
	}
	return nil
}

func (p *StaticProgram) validateInstruction(inst Instruction, n int) error {
	switch in := inst.(type) {
	case ADV:
		if in.Reactor == "" {
			return fmt.Errorf("missing reactor")
		}
	case EXE:
		if in.Reaction == nil {
			return fmt.Errorf("missing reaction")
		}
	case EIT:
		if in.Reaction == nil {
			return fmt.Errorf("missing reaction")
		}
	case DU:
		if in.Offset < 0 {
			return fmt.Errorf("negative offset")
		}
	case WU:
		if in.Counter < 0 || in.Counter >= p.Counters {
			return fmt.Errorf("counter out of range")
		}
	case ADDI:
		if in.Counter < 0 || in.Counter >= p.Counters {
			return fmt.Errorf("counter out of range")
		}
	case BIT:
		if in.Target < 0 || in.Target >= n {
			return fmt.Errorf("target out of range")
		}
	case JMP:
		if in.Target < 0 || in.Target >= n {
			return fmt.Errorf("target out of range")
		}
	case SAC, STP:
	default:
		return fmt.Errorf("unknown instruction %T", inst)
	}
	return nil
}

func invalidInstruction(format string, args ...any) error {
	return &ir.RuntimeError{
		Code:    ir.ErrCodeInvalidInstruction,
		Message: fmt.Sprintf(format, args...),
	}
}

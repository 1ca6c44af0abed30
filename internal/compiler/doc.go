// Package compiler turns declarative program descriptions into executable
// programs.
//
// The pipeline is:
//
//	CUE value --CompileProgram--> ir.ProgramSpec --Validate/Build--> ir.Program
//
// Build names every port, timer and action "Reactor.member", wires
// connections, gives each reaction a synthetic body, and assigns levels and
// chain masks from the precedence graph. FindCycles reports causality
// loops. StaticSchedule compiles a timer-driven program into per-worker
// instruction sequences for the static scheduler.
package compiler

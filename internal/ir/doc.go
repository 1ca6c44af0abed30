// Package ir defines the static program model shared by every other
// package: reactions, triggers, ports and tokens, the declarative
// ProgramSpec they are compiled from, runtime error codes, and canonical
// JSON used for golden traces and program hashes.
//
// Of the internal packages, ir imports only internal/tag; the others import ir.
//
// Key constraints:
//   - Reactions are fixed once a program is built; only their status
//     changes at run time, and only through atomic compare-and-swap.
//   - A reaction's level is strictly greater than the level of every
//     reaction that precedes it, and their chain masks overlap.
//   - JSON and YAML tags use snake_case.
package ir

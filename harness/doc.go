// Package harness drives fixtures through the program under test and
// aggregates the outcomes.
//
// For every discovered fixture, in discovery order, the Runner reads and
// parses the file, runs the program with the input section on stdin under a
// timeout, normalizes the error stream, compares
//
//	stdout + "=====\n" + normalized stderr
//
// with the expected section byte for byte, and folds the Outcome into a
// RunSummary. Timeouts and mismatches are outcomes; only configuration-level
// problems (a program that cannot start) and interruption end a run early,
// and both still return the summary accumulated so far.
package harness

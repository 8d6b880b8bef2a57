// Package fixture reads, discovers, and updates harness test-case files.
//
// A fixture is a UTF-8 text file laid out as
//
//	<input>=====\n<expected-stdout>=====\n<expected-stderr>
//
// Only the first delimiter separates input from expectation; anything after
// it is the expected section, compared as a whole against the joined actual
// output of the program under test.
package fixture

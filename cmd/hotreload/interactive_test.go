package main

import (
	"fmt"
	"slices"
	"testing"
)

func TestEventLog(t *testing.T) {
	l := newEventLog(3)

	fmt.Fprint(l, "one\ntw")
	if got := l.Lines(); !slices.Equal(got, []string{"one"}) {
		t.Errorf("lines = %q", got)
	}

	fmt.Fprint(l, "o\nthree\nfour\n")
	if got := l.Lines(); !slices.Equal(got, []string{"two", "three", "four"}) {
		t.Errorf("lines = %q, want the last three", got)
	}
}

package client

import "testing"

func TestAggregatorAccumulatesFragments(t *testing.T) {
	var a Aggregator
	a.Begin()

	buffer, ok := a.Delta("Hello", "Hello")
	if !ok || buffer != "Hello" {
		t.Fatalf("unexpected delta result: %q, %v", buffer, ok)
	}
	buffer, ok = a.Delta(" there", "Hello there")
	if !ok || buffer != "Hello there" {
		t.Fatalf("unexpected delta result: %q, %v", buffer, ok)
	}

	message, ok := a.Complete("Hello there")
	if !ok || message != "Hello there" {
		t.Fatalf("unexpected complete result: %q, %v", message, ok)
	}
	if a.Active() {
		t.Fatal("turn should be closed after complete")
	}
}

func TestAggregatorWireBufferAuthoritative(t *testing.T) {
	var a Aggregator
	a.Begin()

	// A missed fragment is repaired by the cumulative wire buffer.
	a.Delta("Hel", "Hel")
	buffer, _ := a.Delta("lo", "Hello")
	if buffer != "Hello" {
		t.Fatalf("expected wire buffer to win, got %q", buffer)
	}
}

func TestAggregatorFallsBackToLocalAppend(t *testing.T) {
	var a Aggregator
	a.Begin()

	a.Delta("foo", "")
	buffer, _ := a.Delta("bar", "")
	if buffer != "foobar" {
		t.Fatalf("expected local accumulation, got %q", buffer)
	}
}

func TestAggregatorDropsFragmentsAfterComplete(t *testing.T) {
	var a Aggregator
	a.Begin()
	a.Delta("done", "done")
	a.Complete("done")

	if _, ok := a.Delta("late", "donelate"); ok {
		t.Fatal("fragment after complete should be dropped")
	}
}

func TestAggregatorEmptyCompleteUsesBuffer(t *testing.T) {
	var a Aggregator
	a.Begin()
	a.Delta("partial answer", "partial answer")

	message, ok := a.Complete("")
	if !ok || message != "partial answer" {
		t.Fatalf("expected buffer fallback, got %q, %v", message, ok)
	}
}

func TestAggregatorBeginResetsBuffer(t *testing.T) {
	var a Aggregator
	a.Begin()
	a.Delta("first turn", "first turn")
	a.Complete("first turn")

	a.Begin()
	if a.Buffer() != "" {
		t.Fatalf("expected empty buffer after Begin, got %q", a.Buffer())
	}

	buffer, _ := a.Delta("second", "second")
	if buffer != "second" {
		t.Fatalf("unexpected buffer: %q", buffer)
	}
}

func TestAggregatorFailClosesTurn(t *testing.T) {
	var a Aggregator
	a.Begin()
	a.Delta("half", "half")
	a.Fail()

	if a.Active() {
		t.Fatal("turn should be closed after Fail")
	}
	if _, ok := a.Complete("anything"); ok {
		t.Fatal("complete after Fail should be dropped")
	}
}

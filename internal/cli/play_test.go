package cli

import (
	"strings"
	"testing"
	"time"
)

func TestReadLinesDeliversInput(t *testing.T) {
	lines := readLines(strings.NewReader("start\nb\n"), make(chan struct{}))
	var got []string
	for line := range lines {
		got = append(got, line)
	}
	if strings.Join(got, ",") != "start,b" {
		t.Fatalf("unexpected lines %q", got)
	}
}

func TestReadLinesStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	lines := readLines(strings.NewReader(strings.Repeat("a\n", 1000)), done)
	close(done)

	received := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				if received >= 1000 {
					t.Fatalf("reader kept going after done")
				}
				return
			}
			received++
		case <-deadline:
			t.Fatalf("reader goroutine did not exit")
		}
	}
}

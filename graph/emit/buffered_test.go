package emit

import (
	"sync"
	"testing"
)

func TestBufferedEmitter(t *testing.T) {
	t.Run("groups events by run", func(t *testing.T) {
		b := NewBufferedEmitter()
		b.Emit(Event{RunID: "a", NodeID: "n1", Msg: "node_start"})
		b.Emit(Event{RunID: "b", NodeID: "n1", Msg: "node_start"})
		b.Emit(Event{RunID: "a", NodeID: "n2", Msg: "node_end"})

		if got := len(b.History("a")); got != 2 {
			t.Errorf("history(a) = %d events, want 2", got)
		}
		if got := len(b.History("b")); got != 1 {
			t.Errorf("history(b) = %d events, want 1", got)
		}
	})

	t.Run("unknown run yields empty non-nil slice", func(t *testing.T) {
		b := NewBufferedEmitter()
		h := b.History("missing")
		if h == nil || len(h) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", h)
		}
	})

	t.Run("filter by node and message", func(t *testing.T) {
		b := NewBufferedEmitter()
		b.Emit(Event{RunID: "a", NodeID: "n1", Msg: "node_start"})
		b.Emit(Event{RunID: "a", NodeID: "n1", Msg: "node_end"})
		b.Emit(Event{RunID: "a", NodeID: "n2", Msg: "node_end"})

		if got := len(b.HistoryWithFilter("a", HistoryFilter{NodeID: "n1"})); got != 2 {
			t.Errorf("node filter = %d, want 2", got)
		}
		if got := len(b.HistoryWithFilter("a", HistoryFilter{Msg: "node_end"})); got != 2 {
			t.Errorf("msg filter = %d, want 2", got)
		}
		if got := len(b.HistoryWithFilter("a", HistoryFilter{NodeID: "n2", Msg: "node_end"})); got != 1 {
			t.Errorf("combined filter = %d, want 1", got)
		}
	})

	t.Run("clear", func(t *testing.T) {
		b := NewBufferedEmitter()
		b.Emit(Event{RunID: "a"})
		b.Emit(Event{RunID: "b"})

		b.Clear("a")
		if len(b.History("a")) != 0 || len(b.History("b")) != 1 {
			t.Error("Clear(a) should only drop run a")
		}
		b.Clear("")
		if len(b.History("b")) != 0 {
			t.Error("Clear(\"\") should drop every run")
		}
	})

	t.Run("concurrent emit", func(t *testing.T) {
		b := NewBufferedEmitter()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					b.Emit(Event{RunID: "a"})
				}
			}()
		}
		wg.Wait()
		if got := len(b.History("a")); got != 1000 {
			t.Errorf("got %d events, want 1000", got)
		}
	})
}

func TestMultiEmitter(t *testing.T) {
	first := NewBufferedEmitter()
	second := NewBufferedEmitter()
	multi := NewMultiEmitter(first, nil, second, NewNullEmitter())

	if len(multi) != 3 {
		t.Fatalf("expected nil emitter to be dropped, got %d emitters", len(multi))
	}

	multi.Emit(Event{RunID: "r", Msg: "node_start"})

	if len(first.History("r")) != 1 || len(second.History("r")) != 1 {
		t.Error("every emitter should receive the event")
	}
}

package history

import (
	"testing"
	"time"

	"taskmaster/pkg/codec"
)

func TestJournalRecordAndRecent(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	base := time.Now().Add(-time.Minute)

	for i, kind := range []codec.EventKind{codec.EventSpawn, codec.EventExit, codec.EventRestart} {
		j.Record(codec.Event{
			Program: "web",
			Pid:     1000 + i,
			Kind:    kind,
			At:      base.Add(time.Duration(i) * time.Second),
		})
	}

	j.Record(codec.Event{Program: "db", Pid: 2000, Kind: codec.EventSpawn, At: base})

	events, err := j.Recent("web", 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	// 新的在前
	if events[0].Kind != codec.EventRestart || events[1].Kind != codec.EventExit {
		t.Errorf("events = %v", events)
	}

	// 不串program
	for _, ev := range events {
		if ev.Program != "web" {
			t.Errorf("event from wrong program: %v", ev)
		}
	}

	dbEvents, err := j.Recent("db", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dbEvents) != 1 || dbEvents[0].Pid != 2000 {
		t.Errorf("db events = %v", dbEvents)
	}
}

func TestJournalUnknownProgram(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	events, err := j.Recent("ghost", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal

	j.Record(codec.Event{Program: "web", Kind: codec.EventSpawn})

	events, err := j.Recent("web", 5)
	if err != nil || events != nil {
		t.Errorf("nil journal Recent = %v, %v", events, err)
	}

	if err := j.Close(); err != nil {
		t.Errorf("nil journal Close = %v", err)
	}
}

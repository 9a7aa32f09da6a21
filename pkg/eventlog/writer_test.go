package eventlog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestNewWriter(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "audit")

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	currentFile := writer.GetCurrentLogFile()
	if currentFile == "" {
		t.Fatal("No current log file set")
	}
	if _, err := os.Stat(currentFile); os.IsNotExist(err) {
		t.Error("Current log file does not exist")
	}
}

func TestRecordAndRead(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	ev := NewEvent(KindTransition, "p1").With("from", "Charter").With("to", "Requirements")
	ev.Actor = "alice"
	if err := writer.Record(ev); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}
	if err := writer.Record(NewEvent(KindValidationFailed, "p1").With("missing", []string{"Scope"})); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	events, err := ReadEvents(writer.GetCurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindTransition || events[0].Actor != "alice" || events[0].Data["to"] != "Requirements" {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Error("Events should carry distinct ids")
	}
	if missing, ok := events[1].Data["missing"].([]any); !ok || len(missing) != 1 || missing[0] != "Scope" {
		t.Errorf("Unexpected missing payload: %#v", events[1].Data["missing"])
	}
}

func TestConcurrentRecord(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writer.Record(NewEvent(KindPatchDisposition, "p1")); err != nil {
				t.Errorf("record failed: %v", err)
			}
		}()
	}
	wg.Wait()

	events, err := ReadEvents(writer.GetCurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("Expected 20 events, got %d", len(events))
	}
}

func TestListLogFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	files, err := ListLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list log files: %v", err)
	}
	if len(files) != 1 || files[0] != writer.GetCurrentLogFile() {
		t.Errorf("Unexpected log files: %v", files)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if writer.GetCurrentLogFile() != "" {
		t.Error("closed writer should report no current file")
	}
}

package datasink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSourceServesFullContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.bin")
	content := make([]byte, 1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src := NewFileSource(path)
	src.Reset()
	defer src.Finished()

	size, ok := src.TransferSize()
	if !ok || size != uint64(len(content)) {
		t.Fatalf("TransferSize: got (%d, %v), want (%d, true)", size, ok, len(content))
	}

	var got []byte
	for {
		chunk, err := src.NextBlock(128)
		if err != nil {
			t.Fatalf("NextBlock error: %v", err)
		}
		got = append(got, chunk...)
		if len(chunk) < 128 {
			break
		}
	}
	if len(got) != len(content) {
		t.Fatalf("got %d bytes, want %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, got[i], content[i])
		}
	}
}

func TestFileSinkWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sink.bin")

	sink := NewFileSink(path)
	sink.Reset()
	if !sink.AcceptTransferSize(8) {
		t.Fatal("expected default AcceptTransferSize policy to accept")
	}
	if err := sink.Receive([]byte("0123")); err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if err := sink.Receive([]byte("4567")); err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	sink.Finished()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "01234567" {
		t.Fatalf("got %q, want %q", got, "01234567")
	}
}

package tftp_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qvasi/tftp"
	"github.com/qvasi/tftp/datasink"
	"github.com/qvasi/tftp/server"
)

func startTestServer(t *testing.T) (addr string, root string) {
	t.Helper()
	root = t.TempDir()
	srv, err := server.New(server.Config{
		Listen:      "127.0.0.1:0",
		Root:        root,
		MaxRetries:  3,
		Timeout:     time.Second,
		AllowCreate: true,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	go srv.Serve(ctx)
	return srv.Addr().String(), root
}

func TestClientReadEndToEnd(t *testing.T) {
	addr, root := startTestServer(t)
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("HELLO\n"), 0o644); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}

	sink := datasink.NewMemorySink()
	outcome := tftp.Read(addr, "hello.txt", tftp.Octet, nil, sink, tftp.ClientConfig{
		Timeout: time.Second, MaxRetries: 3,
	})
	if outcome.Kind != tftp.OutcomeOK {
		t.Fatalf("read outcome: %+v", outcome)
	}
	if string(sink.Bytes()) != "HELLO\n" {
		t.Fatalf("got %q, want %q", sink.Bytes(), "HELLO\n")
	}
}

func TestClientReadWithBlksizeNegotiation(t *testing.T) {
	addr, root := startTestServer(t)
	content := "ABCDEFGHIJ"
	if err := os.WriteFile(filepath.Join(root, "data.bin"), []byte(content), 0o644); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}

	requested := tftp.NewOptions()
	requested.Set("blksize", "8")

	sink := datasink.NewMemorySink()
	outcome := tftp.Read(addr, "data.bin", tftp.Octet, requested, sink, tftp.ClientConfig{
		Timeout: time.Second, MaxRetries: 3,
	})
	if outcome.Kind != tftp.OutcomeOK {
		t.Fatalf("read outcome: %+v", outcome)
	}
	if string(sink.Bytes()) != content {
		t.Fatalf("got %q, want %q", sink.Bytes(), content)
	}
}

func TestClientWriteEndToEnd(t *testing.T) {
	addr, root := startTestServer(t)

	source := datasink.NewMemorySource([]byte("written via tftp"))
	outcome := tftp.Write(addr, "uploaded.txt", tftp.Octet, nil, source, tftp.ClientConfig{
		Timeout: time.Second, MaxRetries: 3,
	})
	if outcome.Kind != tftp.OutcomeOK {
		t.Fatalf("write outcome: %+v", outcome)
	}

	got, err := os.ReadFile(filepath.Join(root, "uploaded.txt"))
	if err != nil {
		t.Fatalf("read back uploaded file: %v", err)
	}
	if string(got) != "written via tftp" {
		t.Fatalf("got %q, want %q", got, "written via tftp")
	}
}

func TestClientReadMissingFile(t *testing.T) {
	addr, _ := startTestServer(t)
	sink := datasink.NewMemorySink()
	outcome := tftp.Read(addr, "does-not-exist.txt", tftp.Octet, nil, sink, tftp.ClientConfig{
		Timeout: time.Second, MaxRetries: 2,
	})
	if outcome.Kind != tftp.OutcomePeerError || outcome.Code != tftp.FileNotFound {
		t.Fatalf("expected a FileNotFound peer error, got %+v", outcome)
	}
}

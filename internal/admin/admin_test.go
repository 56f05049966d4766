package admin

import (
	"context"
	"net"
	"testing"
)

func TestHealthFollowsServingState(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer()
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	addr := listener.Addr().String()

	status, err := Check(context.Background(), addr)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != "NOT_SERVING" {
		t.Fatalf("expected NOT_SERVING before start, got %s", status)
	}

	server.SetServing(true)

	status, err = Check(context.Background(), addr)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != "SERVING" {
		t.Fatalf("expected SERVING, got %s", status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestCheckFailsWithoutServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	if _, err := Check(context.Background(), addr); err == nil {
		t.Fatal("expected an error when nothing is listening")
	}
}

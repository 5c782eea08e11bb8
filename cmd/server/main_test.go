package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"tileproxy/internal/pool"
)

func TestShutdown_DrainsRequestThenClosesPool(t *testing.T) {
	fetchPool := pool.New(1)
	entered := make(chan struct{})
	finish := make(chan struct{})

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, err := fetchPool.Acquire(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer release()
		close(entered)
		<-finish
		w.Write([]byte("done"))
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go server.Serve(ln)

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			t.Errorf("in-flight request failed: %v", err)
			respCh <- nil
			return
		}
		respCh <- resp
	}()
	<-entered

	done := make(chan error, 1)
	go func() { done <- shutdown(server, fetchPool, 2*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	close(finish)

	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if resp := <-respCh; resp == nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("in-flight request was not drained: %v", resp)
	} else {
		resp.Body.Close()
	}

	if _, err := fetchPool.Acquire(context.Background()); !errors.Is(err, pool.ErrClosed) {
		t.Errorf("Acquire after shutdown error = %v, want ErrClosed", err)
	}
}

func TestShutdown_GracePeriodExpires(t *testing.T) {
	fetchPool := pool.New(1)
	if _, err := fetchPool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	err := shutdown(&http.Server{}, fetchPool, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown error = %v, want deadline exceeded", err)
	}
}

func TestRun_ListenFailureIsAnError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	server := &http.Server{Addr: occupied.Addr().String(), Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), server, pool.New(1), time.Second, zap.NewNop()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("run returned nil after the listener failed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the listener failed")
	}
}

func TestRun_SignalShutdownIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	if err := run(ctx, server, pool.New(1), time.Second, zap.NewNop()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

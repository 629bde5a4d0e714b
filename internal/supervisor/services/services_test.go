// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockHTTPServer implements HTTPServer with controllable behavior.
type mockHTTPServer struct {
	listenErr    error
	shutdownErr  error
	shutdownDone atomic.Bool
	release      chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{release: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.release
	return errors.New("http: Server closed")
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdownDone.Store(true)
	close(m.release)
	return m.shutdownErr
}

func TestHTTPServerServiceStartupFailure(t *testing.T) {
	server := newMockHTTPServer()
	server.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("expected startup error")
	}
	if !errors.Is(err, server.listenErr) {
		t.Errorf("expected wrapped listen error, got %v", err)
	}
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	if !server.shutdownDone.Load() {
		t.Error("Shutdown was never called")
	}
}

// mockRunner counts RunWithContext invocations.
type mockRunner struct {
	runs atomic.Int32
}

func (m *mockRunner) RunWithContext(ctx context.Context) error {
	m.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegates(t *testing.T) {
	runner := &mockRunner{}
	svc := NewHubService(runner)

	if svc.String() != "collab-hub" {
		t.Errorf("unexpected service name %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if runner.runs.Load() != 1 {
		t.Errorf("expected exactly one run, got %d", runner.runs.Load())
	}
}

// mockGC counts GC rounds and optionally fails.
type mockGC struct {
	calls atomic.Int32
	err   error
}

func (m *mockGC) RunGC() error {
	m.calls.Add(1)
	return m.err
}

func TestStoreGCServiceTicks(t *testing.T) {
	gc := &mockGC{}
	svc := NewStoreGCService(gc, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for gc.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-errCh

	if gc.calls.Load() < 2 {
		t.Errorf("expected at least 2 gc rounds, got %d", gc.calls.Load())
	}
}

func TestStoreGCServiceSurvivesErrors(t *testing.T) {
	gc := &mockGC{err: errors.New("value log busy")}
	svc := NewStoreGCService(gc, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// A failing GC round must not kill the ticker loop.
	err := svc.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if gc.calls.Load() < 2 {
		t.Errorf("expected the loop to keep ticking, got %d calls", gc.calls.Load())
	}
}

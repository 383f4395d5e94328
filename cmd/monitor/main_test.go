package main

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/steadystate/cmd/monitor/config"
	"github.com/HatiCode/steadystate/pkg/logger"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRun_GRPCListenFailureStopsHTTPServer(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	samples := filepath.Join(t.TempDir(), "samples.txt")
	if err := os.WriteFile(samples, []byte("100 101 99 100 100"), 0o600); err != nil {
		t.Fatalf("write samples: %v", err)
	}

	httpAddr := freeAddr(t)
	cfg := &config.Config{
		Listen:         httpAddr,
		GRPCListen:     busy.Addr().String(),
		Storage:        "memory",
		HistoryLimit:   10,
		Target:         "fio",
		Metric:         "write_iops",
		Adapter:        "file",
		AdapterConfig:  map[string]string{"path": samples},
		WindowSize:     5,
		Step:           time.Minute,
		LookbackRounds: 5,
		Interval:       time.Minute,
		Threshold:      0.1,
	}

	done := make(chan error, 1)
	go func() { done <- run(cfg, logger.Discard()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "grpc listen") {
			t.Fatalf("run() error = %v, want grpc listen failure", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after gRPC listen failure")
	}

	// The HTTP listener must be gone and stay gone.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", httpAddr, 100*time.Millisecond)
		if err != nil {
			break
		}
		conn.Close()
		if time.Now().After(deadline) {
			t.Fatal("HTTP server still accepting connections after run() returned")
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	if conn, err := net.DialTimeout("tcp", httpAddr, 100*time.Millisecond); err == nil {
		conn.Close()
		t.Error("HTTP server started listening after run() returned")
	}
}

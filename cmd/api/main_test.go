package main

import (
	"net"
	"testing"

	"tradepost.app/internal/config"
)

func TestListenReleasesHTTPWhenGRPCBindFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer busy.Close()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pick http port: %v", err)
	}
	httpAddr := free.Addr().String()
	free.Close()

	if _, _, err := listen(config.Server{Addr: httpAddr, GRPCAddr: busy.Addr().String()}); err == nil {
		t.Fatal("expected grpc bind error")
	}

	again, err := net.Listen("tcp", httpAddr)
	if err != nil {
		t.Fatalf("http listener was not released: %v", err)
	}
	again.Close()
}

func TestListenWithoutGRPC(t *testing.T) {
	httpLis, grpcLis, err := listen(config.Server{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer httpLis.Close()
	if grpcLis != nil {
		t.Fatal("expected no grpc listener")
	}
}

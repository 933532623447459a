package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"teradrop/internal/config"
	"teradrop/internal/logging"
	"teradrop/internal/store"
)

// A storage node serves one local directory to the web and bot processes
// running with nw content.
func main() {
	cfg := config.Load()

	host := flag.String("host", "localhost", "Host address for the server")
	port := flag.Int("port", 8090, "Port number for the server")
	flag.Parse()

	if *port <= 0 {
		fmt.Println("Error: Port number must be positive")
		os.Exit(2)
	}
	if flag.NArg() < 1 {
		fmt.Println("Usage: storage [OPTIONS] <baseDir>")
		fmt.Println("Error: Base directory argument is required")
		os.Exit(2)
	}
	baseDir := flag.Arg(0)

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	fs, err := store.NewFSStore(baseDir)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	if cfg.SweepAfter > 0 {
		if n, err := fs.SweepOrphans(context.Background(), cfg.SweepAfter); err != nil {
			logger.Warn("orphan sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("removed orphaned temp files", zap.Int("count", n))
		}
	}

	addr := net.JoinHostPort(*host, fmt.Sprint(*port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", addr), zap.Error(err))
	}

	grpcServer := store.NewGRPCServer(store.NewNodeServer(fs, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			grpcServer.Stop()
		}
	}()

	logger.Info("storage node listening", zap.String("addr", addr), zap.String("dir", baseDir))
	if err := grpcServer.Serve(lis); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"teradrop/internal/catalog"
	"teradrop/internal/config"
	"teradrop/internal/events"
	"teradrop/internal/logging"
	"teradrop/internal/store"
	"teradrop/internal/web"
)

// printUsage prints the usage information for the application
func printUsage() {
	fmt.Println("Usage: web [OPTIONS] [CATALOG_TYPE CATALOG_OPTIONS CONTENT_TYPE CONTENT_OPTIONS]")
	fmt.Println()
	fmt.Println("Arguments (override the environment when given):")
	fmt.Println("  CATALOG_TYPE          Catalog type (sqlite, etcd, none)")
	fmt.Println("  CATALOG_OPTIONS       Options for the catalog (e.g., db path, etcd endpoints)")
	fmt.Println("  CONTENT_TYPE          Store type (fs, nw)")
	fmt.Println("  CONTENT_OPTIONS       Options for the store (e.g., base dir, node addresses)")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Example: web sqlite catalog.db fs ./Videos")
}

func main() {
	cfg := config.Load()

	host := flag.String("host", cfg.HTTPHost, "Host address for the web server")
	port := flag.Int("port", cfg.HTTPPort, "Port number for the web server")
	adminAddr := flag.String("admin", "", "Listen address for the node admin service (nw content only)")
	flag.Usage = printUsage
	flag.Parse()

	switch flag.NArg() {
	case 0:
	case 4:
		cfg.CatalogType = flag.Arg(0)
		cfg.CatalogOptions = flag.Arg(1)
		cfg.ContentType = flag.Arg(2)
		cfg.ContentOptions = flag.Arg(3)
	default:
		fmt.Println("Error: Incorrect number of arguments")
		printUsage()
		os.Exit(2)
	}
	if *port <= 0 {
		fmt.Println("Error: Invalid port number:", *port)
		printUsage()
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(*host, fmt.Sprint(*port))
	if err := run(ctx, cfg, addr, *adminAddr, logger); err != nil {
		logger.Fatal("web server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, addr, adminAddr string, logger *zap.Logger) error {
	logger.Info("opening store", zap.String("type", cfg.ContentType), zap.String("options", cfg.ContentOptions))
	st, err := store.Open(cfg.ContentType, cfg.ContentOptions)
	if err != nil {
		return err
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}
	if fs, ok := st.(*store.FSStore); ok && cfg.SweepAfter > 0 {
		n, err := fs.SweepOrphans(ctx, cfg.SweepAfter)
		if err != nil {
			logger.Warn("orphan sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("removed orphaned temp files", zap.Int("count", n))
		}
	}

	logger.Info("opening catalog", zap.String("type", cfg.CatalogType), zap.String("options", cfg.CatalogOptions))
	cat, err := catalog.Open(cfg.CatalogType, cfg.CatalogOptions)
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}

	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		logger.Info("publishing asset events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaEventTopic))
	}
	defer pub.Close()

	srv := web.NewServer(st, cat, pub, logger, cfg.MaxUploadBytes)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	var (
		grpcServer *grpc.Server
		adminLis   net.Listener
	)
	if adminAddr != "" {
		nw, ok := st.(*store.NWStore)
		if !ok {
			lis.Close()
			return errors.New("admin service requires nw content")
		}
		if adminLis, err = net.Listen("tcp", adminAddr); err != nil {
			lis.Close()
			return fmt.Errorf("listen on %s: %w", adminAddr, err)
		}
		grpcServer = grpc.NewServer()
		store.RegisterAdminServer(grpcServer, store.NewAdminServer(nw, logger))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting web server", zap.String("addr", addr))
		return srv.Start(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("admin service listening", zap.String("addr", adminAddr))
			return grpcServer.Serve(adminLis)
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"teradrop/internal/config"
	"teradrop/internal/logging"
	"teradrop/internal/store"
)

func main() {
	if len(os.Args) < 3 {
		printUsageAndExit()
	}
	cmd := os.Args[1]
	serverAddr := os.Args[2]

	logger, err := logging.New(config.Load().LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal("failed to connect to server", zap.String("addr", serverAddr), zap.Error(err))
	}
	defer conn.Close()
	client := store.NewAdminClient(conn)

	// migrations copy whole assets, so allow them time
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	switch cmd {
	case "add":
		if len(os.Args) != 4 {
			fmt.Println("Usage: add <server_address> <node_address>")
			os.Exit(1)
		}
		n, err := client.AddNode(ctx, os.Args[3])
		if err != nil {
			logger.Fatal("AddNode failed", zap.String("node", os.Args[3]), zap.Error(err))
		}
		fmt.Printf("Successfully added node: %s\n", os.Args[3])
		fmt.Printf("Number of assets migrated: %d\n", n)
	case "remove":
		if len(os.Args) != 4 {
			fmt.Println("Usage: remove <server_address> <node_address>")
			os.Exit(1)
		}
		n, err := client.RemoveNode(ctx, os.Args[3])
		if err != nil {
			logger.Fatal("RemoveNode failed", zap.String("node", os.Args[3]), zap.Error(err))
		}
		fmt.Printf("Successfully removed node: %s\n", os.Args[3])
		fmt.Printf("Number of assets migrated: %d\n", n)
	case "list":
		if len(os.Args) != 3 {
			fmt.Println("Usage: list <server_address>")
			os.Exit(1)
		}
		nodes, err := client.ListNodes(ctx)
		if err != nil {
			logger.Fatal("ListNodes failed", zap.Error(err))
		}
		fmt.Println("Storage cluster nodes:")
		if len(nodes) == 0 {
			fmt.Println("  No nodes in cluster")
		}
		for _, node := range nodes {
			fmt.Printf("  - %s\n", node)
		}
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsageAndExit()
	}
}

func printUsageAndExit() {
	fmt.Println("Usage:")
	fmt.Println("  add <server_address> <node_address>     - Add a storage node and migrate its assets")
	fmt.Println("  remove <server_address> <node_address>  - Drain a storage node and remove it")
	fmt.Println("  list <server_address>                   - List storage nodes")
	os.Exit(1)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"teradrop/internal/bot"
	"teradrop/internal/catalog"
	"teradrop/internal/config"
	"teradrop/internal/events"
	"teradrop/internal/logging"
	"teradrop/internal/store"
)

func printUsage() {
	fmt.Println("Usage: bot [OPTIONS]")
	fmt.Println()
	fmt.Println("The bot reads fetch requests from Kafka and writes the downloaded files")
	fmt.Println("into the same store the web service serves. Configuration comes from the")
	fmt.Println("environment or a .env file (see KAFKA_*, MONGO_*, REDIS_*, MINIO_*).")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func main() {
	cfg := config.Load()
	contentType := flag.String("content", cfg.ContentType, "Store type (fs, nw)")
	contentOptions := flag.String("content-options", cfg.ContentOptions, "Store options (base dir or node addresses)")
	flag.Usage = printUsage
	flag.Parse()
	cfg.ContentType, cfg.ContentOptions = *contentType, *contentOptions

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bot failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := store.Open(cfg.ContentType, cfg.ContentOptions)
	if err != nil {
		return err
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	cat, err := catalog.Open(cfg.CatalogType, cfg.CatalogOptions)
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}

	deps := bot.Deps{
		Store:        st,
		Fetcher:      bot.NewFetcher(&http.Client{}, st),
		Catalog:      cat,
		Logger:       logger,
		FetchTimeout: cfg.FetchTimeout,
	}

	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		cancel()
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer client.Disconnect(context.Background())
		deps.Users = bot.NewMongoUsers(client.Database(cfg.MongoDatabase))
		logger.Info("user ledger enabled", zap.String("database", cfg.MongoDatabase))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		deps.Limiter = bot.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateWindow)
		logger.Info("rate limit enabled", zap.Int("limit", cfg.RateLimit), zap.Duration("window", cfg.RateWindow))
	}

	if cfg.ResolverURL != "" {
		deps.Resolver = bot.NewAPIResolver(cfg.ResolverURL, &http.Client{Timeout: 30 * time.Second})
	}

	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventTopic)
	}
	defer pub.Close()
	deps.Publisher = pub

	var (
		mirror  *bot.Mirror
		watcher *events.Watcher
	)
	if cfg.MinioEndpoint != "" {
		fs, ok := st.(*store.FSStore)
		if !ok {
			return errors.New("archive mirror requires fs content")
		}
		archive, err := bot.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
		if err != nil {
			return fmt.Errorf("connect minio: %w", err)
		}
		if watcher, err = events.NewWatcher(fs.Dir(), logger); err != nil {
			return err
		}
		mirror = bot.NewMirror(st, archive, logger)
	}
	if len(cfg.KafkaBrokers) == 0 && mirror == nil {
		return errors.New("nothing to do: set KAFKA_BROKERS or MINIO_ENDPOINT")
	}

	g, ctx := errgroup.WithContext(ctx)
	if mirror != nil {
		g.Go(func() error {
			logger.Info("mirroring store", zap.String("bucket", cfg.MinioBucket))
			return mirror.Run(ctx, watcher)
		})
	}

	if len(cfg.KafkaBrokers) > 0 {
		consumer := events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaRequestTopic, cfg.KafkaGroupID, bot.New(deps), logger)
		defer consumer.Close()
		g.Go(func() error {
			logger.Info("consuming fetch requests",
				zap.Strings("brokers", cfg.KafkaBrokers),
				zap.String("topic", cfg.KafkaRequestTopic),
				zap.String("group", cfg.KafkaGroupID))
			return consumer.Run(ctx)
		})
	}
	return g.Wait()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tigrankh/migration/pkg/config"
	"github.com/tigrankh/migration/pkg/docstore/dynamostore"
	"github.com/tigrankh/migration/pkg/docstore/mongostore"
	"github.com/tigrankh/migration/pkg/migration"
)

var cli struct {
	Reset      bool   `help:"Resets all previously migrated documents to is_migrated=false."`
	Force      bool   `help:"Forces a repeated migration over all documents, migrated or not."`
	IDListPath string `name:"id_list_path" help:"Path to a newline-separated file of ids to migrate ahead of the full run." optional:""`
}

func main() {
	kong.Parse(&cli)

	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading configuration: %v", err)
	}

	plans, err := config.ExpandIDList(cfg.Plans, cli.IDListPath)
	if err != nil {
		logger.Fatalf("expanding id list: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := newSourceStore(ctx, cfg.Source, logger)
	if err != nil {
		logger.Fatalf("connecting to source store: %v", err)
	}
	destination, err := newMongoStore(ctx, cfg.Destination)
	if err != nil {
		logger.Fatalf("connecting to destination store: %v", err)
	}
	internal, err := newMongoStore(ctx, cfg.Internal)
	if err != nil {
		logger.Fatalf("connecting to internal store: %v", err)
	}

	engine, err := migration.New(source, destination, internal, plans, migration.WithLogger(logger))
	if err != nil {
		logger.Fatalf("constructing migration engine: %v", err)
	}

	engine.Migrate(ctx, cli.Reset, cli.Force)
}

func newSourceStore(ctx context.Context, dbCfg config.DbConfig, logger *logrus.Logger) (*dynamostore.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg)
	tableName := func(collection string) string {
		return fmt.Sprintf("%s.%s", dbCfg.DatabaseName, collection)
	}
	return dynamostore.New(client, tableName, logger)
}

func newMongoStore(ctx context.Context, dbCfg config.DbConfig) (*mongostore.Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dbCfg.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	return mongostore.New(client.Database(dbCfg.DatabaseName))
}

package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-pullsink/pkg/bqstore"
	"github.com/illmade-knight/go-pullsink/pkg/config"
	"github.com/illmade-knight/go-pullsink/pkg/icestore"
	"github.com/illmade-knight/go-pullsink/pkg/kvstore"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// closerStack closes resources in reverse order of creation.
type closerStack struct {
	names   []string
	closers []func() error
}

func (s *closerStack) push(name string, fn func() error) {
	s.names = append(s.names, name)
	s.closers = append(s.closers, fn)
}

func (s *closerStack) closeAll(logger zerolog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn().Err(err).Str("resource", s.names[i]).Msg("Error while closing.")
		}
	}
	s.names, s.closers = nil, nil
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// buildProcessor creates every enabled sink and chains them in the order
// log, gcs, bigquery, redis, firestore.
func buildProcessor(ctx context.Context, cfg *config.Config, closers *closerStack, logger zerolog.Logger) (messagepipeline.MessageProcessor, error) {
	var processors []messagepipeline.MessageProcessor
	sinks := cfg.Sinks

	if sinks.Log {
		processors = append(processors, messagepipeline.NewLogProcessor(logger))
	}

	if sinks.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		closers.push("gcs", client.Close)
		archiver, err := icestore.NewGCSArchiver(icestore.NewGCSClientAdapter(client), icestore.GCSArchiverConfig{
			BucketName:   sinks.GCS.Bucket,
			ObjectPrefix: sinks.GCS.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		processors = append(processors, archiver.Processor())
	}

	if sinks.BigQuery.Dataset != "" {
		client, err := bqstore.NewProductionBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
		if err != nil {
			return nil, err
		}
		closers.push("bigquery", client.Close)
		inserter, err := bqstore.NewBigQueryInserter[bqstore.MessageRow](ctx, client, &bqstore.BigQueryDatasetConfig{
			DatasetID: sinks.BigQuery.Dataset,
			TableID:   sinks.BigQuery.Table,
		}, logger)
		if err != nil {
			return nil, err
		}
		processor, err := bqstore.NewBigQueryProcessor(inserter)
		if err != nil {
			return nil, err
		}
		processors = append(processors, processor)
	}

	if sinks.Redis.Addr != "" {
		sink, err := kvstore.NewRedisSink(ctx, &kvstore.RedisConfig{
			Addr:      sinks.Redis.Addr,
			Password:  sinks.Redis.Password,
			DB:        sinks.Redis.DB,
			KeyPrefix: sinks.Redis.KeyPrefix,
			TTL:       sinks.Redis.TTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		closers.push("redis", sink.Close)
		processors = append(processors, sink.Processor())
	}

	if sinks.Firestore.Collection != "" {
		client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		closers.push("firestore", client.Close)
		sink, err := kvstore.NewFirestoreSink(kvstore.NewFirestoreDocumentWriter(client), sinks.Firestore.Collection, logger)
		if err != nil {
			return nil, err
		}
		processors = append(processors, sink.Processor())
	}

	if len(processors) == 0 {
		logger.Warn().Msg("No sinks enabled, messages will be acknowledged without being stored.")
	}
	return messagepipeline.ChainProcessors(processors...), nil
}

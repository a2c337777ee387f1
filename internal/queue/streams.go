package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Addr          string
	Password      string
	DB            int
	JobsStream    string
	ResultsStream string
	DLQStream     string
	Group         string
	Consumer      string
	MaxAttempts   int
}

// StreamsTransport bridges the queue to an external worker fleet over Redis
// Streams: dispatched jobs go out on the jobs stream, worker results come
// back on the results stream through a consumer group.
type StreamsTransport struct {
	client        *redis.Client
	jobsStream    string
	resultsStream string
	dlqStream     string
	group         string
	consumer      string
	maxAttempts   int
}

func NewStreamsTransport(ctx context.Context, cfg StreamsConfig) (*StreamsTransport, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.JobsStream == "" {
		cfg.JobsStream = "doc_jobs"
	}
	if cfg.ResultsStream == "" {
		cfg.ResultsStream = "doc_results"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "doc_results_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "doc_api"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	transport := &StreamsTransport{
		client:        client,
		jobsStream:    cfg.JobsStream,
		resultsStream: cfg.ResultsStream,
		dlqStream:     cfg.DLQStream,
		group:         cfg.Group,
		consumer:      cfg.Consumer,
		maxAttempts:   cfg.MaxAttempts,
	}
	if err := transport.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return transport, nil
}

func (t *StreamsTransport) Close() error {
	return t.client.Close()
}

func (t *StreamsTransport) Forward(ctx context.Context, job domain.ProcessingJob) error {
	values, err := jobStreamValues(job)
	if err != nil {
		return err
	}

	_, err = t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.jobsStream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("forward to jobs stream: %w", err)
	}
	return nil
}

// ForwardBatch writes the whole batch with one pipelined round trip. XADD is
// not transactional across entries, so a mid-batch failure can leave a prefix
// of the batch on the stream; callers retry the batch and workers dedupe by
// ingestion id.
func (t *StreamsTransport) ForwardBatch(ctx context.Context, jobs []domain.ProcessingJob) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := t.client.Pipeline()
	for _, job := range jobs {
		values, err := jobStreamValues(job)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: t.jobsStream,
			Values: values,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forward batch to jobs stream: %w", err)
	}
	return nil
}

func jobStreamValues(job domain.ProcessingJob) (map[string]any, error) {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return nil, fmt.Errorf("encode job config: %w", err)
	}
	return map[string]any{
		"ingestion_id": job.IngestionID,
		"document_id":  job.DocumentID,
		"user_id":      job.UserID,
		"file_name":    job.FileName,
		"file_type":    job.FileType,
		"file_path":    job.FilePath,
		"config":       string(config),
		"requested_at": job.RequestedAt.Format(time.RFC3339Nano),
	}, nil
}

func (t *StreamsTransport) ConsumeResults(
	ctx context.Context,
	handler func(context.Context, domain.CallbackPayload) error,
) error {
	if err := t.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.group,
			Consumer: t.consumer,
			Streams:  []string{t.resultsStream, ">"},
			Count:    16,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				payload, attempt, parseErr := parseResultMessage(item)
				if parseErr != nil {
					_ = t.sendToDLQ(ctx, domain.CallbackPayload{}, item, 0, parseErr.Error())
					_ = t.ackAndDelete(ctx, item.ID)
					continue
				}

				handleErr := handler(ctx, payload)
				if handleErr == nil {
					_ = t.ackAndDelete(ctx, item.ID)
					continue
				}

				attempt++
				if attempt >= t.maxAttempts {
					_ = t.sendToDLQ(ctx, payload, item, attempt, handleErr.Error())
					_ = t.ackAndDelete(ctx, item.ID)
					continue
				}

				if requeueErr := t.requeueResult(ctx, payload, attempt); requeueErr != nil {
					_ = t.sendToDLQ(ctx, payload, item, attempt, fmt.Sprintf("requeue failed: %v", requeueErr))
				}
				_ = t.ackAndDelete(ctx, item.ID)
			}
		}
	}
}

func (t *StreamsTransport) ensureGroup(ctx context.Context) error {
	err := t.client.XGroupCreateMkStream(ctx, t.resultsStream, t.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (t *StreamsTransport) ackAndDelete(ctx context.Context, streamID string) error {
	if err := t.client.XAck(ctx, t.resultsStream, t.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := t.client.XDel(ctx, t.resultsStream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (t *StreamsTransport) requeueResult(ctx context.Context, payload domain.CallbackPayload, attempt int) error {
	result, err := json.Marshal(payload.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.resultsStream,
		Values: map[string]any{
			"document_id": payload.DocumentID,
			"result":      string(result),
			"attempt":     attempt,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("requeue result: %w", err)
	}
	return nil
}

func (t *StreamsTransport) sendToDLQ(
	ctx context.Context,
	payload domain.CallbackPayload,
	item redis.XMessage,
	attempt int,
	errorMessage string,
) error {
	result, _ := json.Marshal(payload.Result)
	values := map[string]any{
		"stream_id":   item.ID,
		"document_id": payload.DocumentID,
		"result":      string(result),
		"attempt":     attempt,
		"error":       errorMessage,
		"moved_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := t.client.XAdd(ctx, &redis.XAddArgs{Stream: t.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func parseResultMessage(item redis.XMessage) (domain.CallbackPayload, int, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	documentID, err := getString("document_id")
	if err != nil {
		return domain.CallbackPayload{}, 0, err
	}

	resultString, err := getString("result")
	if err != nil {
		return domain.CallbackPayload{}, 0, err
	}
	var result domain.ProcessingResult
	if err := json.Unmarshal([]byte(resultString), &result); err != nil {
		return domain.CallbackPayload{}, 0, fmt.Errorf("invalid result: %w", err)
	}

	attempt := 0
	if attemptString, err := getString("attempt"); err == nil {
		parsed, parseErr := strconv.Atoi(attemptString)
		if parseErr != nil {
			return domain.CallbackPayload{}, 0, fmt.Errorf("invalid attempt: %w", parseErr)
		}
		attempt = parsed
	}

	return domain.CallbackPayload{DocumentID: documentID, Result: result}, attempt, nil
}

package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/quality"
	"github.com/mcosta/docingest-back/internal/queue"
	"github.com/mcosta/docingest-back/internal/repository"
)

// CallbackTarget is the lifecycle entry point worker results are applied to.
type CallbackTarget interface {
	ResolveCallback(ctx context.Context, documentID string, result domain.ProcessingResult) (string, error)
}

// ResultProcessor consumes worker results from the transport and feeds them
// into the ingestion lifecycle.
type ResultProcessor struct {
	transport queue.Transport
	validator *quality.CallbackValidator
	target    CallbackTarget
	logger    *log.Logger
}

func NewResultProcessor(
	transport queue.Transport,
	validator *quality.CallbackValidator,
	target CallbackTarget,
	logger *log.Logger,
) *ResultProcessor {
	return &ResultProcessor{
		transport: transport,
		validator: validator,
		target:    target,
		logger:    logger,
	}
}

func (p *ResultProcessor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.transport.ConsumeResults(ctx, p.processResult)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("result consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *ResultProcessor) processResult(ctx context.Context, payload domain.CallbackPayload) error {
	validated, err := p.validator.Validate(payload)
	if err != nil {
		// Malformed payloads are dropped, not retried.
		if p.logger != nil {
			p.logger.Printf("callback payload rejected document_id=%s err=%v", payload.DocumentID, err)
		}
		return nil
	}

	ingestionID, err := p.target.ResolveCallback(ctx, validated.DocumentID, validated.Result)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if p.logger != nil {
				p.logger.Printf("callback for unknown document dropped document_id=%s", validated.DocumentID)
			}
			return nil
		}
		return err
	}

	if p.logger != nil {
		p.logger.Printf("worker result applied document_id=%s ingestion_id=%s success=%t",
			validated.DocumentID, ingestionID, validated.Result.Success)
	}
	return nil
}

package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/queue"
)

const (
	stubSummaryLength = 200
	stubKeywordLimit  = 8
)

// StubExtractor stands in for the external worker fleet during local
// development: it consumes forwarded jobs from the local transport, runs a
// trivial text extraction over the file on disk, and publishes results back
// through the same transport.
type StubExtractor struct {
	transport *queue.LocalTransport
	logger    *log.Logger
}

func NewStubExtractor(transport *queue.LocalTransport, logger *log.Logger) *StubExtractor {
	return &StubExtractor{transport: transport, logger: logger}
}

func (s *StubExtractor) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.transport.Jobs():
			result := s.process(job)
			payload := domain.CallbackPayload{DocumentID: job.DocumentID, Result: result}
			if err := s.transport.PublishResult(ctx, payload); err != nil {
				if s.logger != nil {
					s.logger.Printf("stub worker publish failed document_id=%s err=%v", job.DocumentID, err)
				}
				return
			}
		}
	}
}

func (s *StubExtractor) process(job domain.ProcessingJob) domain.ProcessingResult {
	startedAt := time.Now()

	raw, err := os.ReadFile(job.FilePath)
	if err != nil {
		return domain.ProcessingResult{
			Success:        false,
			ProcessingTime: time.Since(startedAt).Seconds(),
			Errors:         []string{fmt.Sprintf("read %s: %v", job.FileName, err)},
		}
	}

	text := strings.TrimSpace(string(raw))
	result := domain.ProcessingResult{
		Success:        true,
		ProcessingTime: time.Since(startedAt).Seconds(),
	}
	if job.Config.ExtractText {
		result.ExtractedText = text
	}
	if job.Config.GenerateSummary {
		result.Summary = summarize(text)
	}
	if job.Config.ExtractKeywords {
		result.Keywords = topKeywords(text, stubKeywordLimit)
	}
	if job.Config.DetectLanguage {
		result.Language = "en"
	}
	return result
}

func summarize(text string) string {
	if len(text) <= stubSummaryLength {
		return text
	}
	cut := text[:stubSummaryLength]
	if space := strings.LastIndex(cut, " "); space > 0 {
		cut = cut[:space]
	}
	return cut + "..."
}

// topKeywords counts word frequency and keeps the most common words longer
// than three characters.
func topKeywords(text string, limit int) []string {
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if len(word) <= 3 {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

package service

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mcosta/docingest-back/internal/cache"
	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/repository"
)

type searchFixture struct {
	service    *SearchService
	ingestions *repository.MemoryIngestionRepository
	documents  *repository.MemoryDocumentRepository
	cache      *cache.SearchCache
}

func newSearchFixture(t *testing.T) searchFixture {
	t.Helper()

	ingestions := repository.NewMemoryIngestionRepository()
	documents := repository.NewMemoryDocumentRepository()
	searchCache := cache.NewSearchCache(cache.Config{TTL: time.Minute, MaxEntries: 100})
	svc := NewSearchService(ingestions, documents, searchCache, nil, log.New(io.Discard, "", 0))

	return searchFixture{
		service:    svc,
		ingestions: ingestions,
		documents:  documents,
		cache:      searchCache,
	}
}

func (fx searchFixture) seedCompleted(
	t *testing.T,
	documentID, userID, title string,
	result domain.ProcessingResult,
	config domain.ProcessingConfig,
) {
	t.Helper()
	ctx := context.Background()

	err := fx.documents.Put(ctx, &domain.Document{
		ID:     documentID,
		UserID: userID,
		Title:  title,
		Status: domain.DocumentStatusProcessed,
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}

	now := time.Now().UTC()
	started := now.Add(-time.Minute)
	resultCopy := result
	err = fx.ingestions.Create(ctx, &domain.Ingestion{
		ID:          documentID + "-ingestion",
		DocumentID:  documentID,
		UserID:      userID,
		Status:      domain.IngestionStatusCompleted,
		Progress:    100,
		Config:      config,
		Logs:        domain.IngestionLogs{ProcessingResult: &resultCopy},
		StartedAt:   &started,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("seed ingestion: %v", err)
	}
}

func TestPartialMatchScore(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		keywords []string
		want     float64
	}{
		{name: "all words exact", text: "Machine Learning Guide", keywords: []string{"machine", "learning"}, want: 1.0},
		{name: "word substring", text: "preprocessing pipeline", keywords: []string{"processing"}, want: 0.7},
		{name: "raw substring across words", text: "a bridge over troubled water", keywords: []string{"ge ov"}, want: 0.5},
		{name: "no match", text: "completely unrelated", keywords: []string{"zebra"}, want: 0},
		{name: "empty text", text: "", keywords: []string{"zebra"}, want: 0},
		{name: "half exact", text: "machine room", keywords: []string{"machine", "zebra"}, want: 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := partialMatchScore(tc.text, tc.keywords)
			if got != tc.want {
				t.Fatalf("partialMatchScore(%q, %v) = %v, want %v", tc.text, tc.keywords, got, tc.want)
			}
		})
	}
}

func TestTokenizeQueryDropsShortWords(t *testing.T) {
	got := tokenizeQuery("AI in Machine Learning")
	want := []string{"machine", "learning"}
	if len(got) != len(want) {
		t.Fatalf("tokenizeQuery returned %v, want %v", got, want)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("tokenizeQuery returned %v, want %v", got, want)
		}
	}
}

func TestSearchRanksTitleAboveContent(t *testing.T) {
	fx := newSearchFixture(t)

	fx.seedCompleted(t, "doc-title", "user-1", "Machine Learning Guide", domain.ProcessingResult{
		Success:       true,
		ExtractedText: "a short note about databases",
	}, domain.ProcessingConfig{})
	fx.seedCompleted(t, "doc-content", "user-1", "Untitled Upload", domain.ProcessingResult{
		Success:       true,
		ExtractedText: "machine learning techniques in practice",
	}, domain.ProcessingConfig{})

	results, err := fx.service.Search(context.Background(), "machine learning", "user-1", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].DocumentID != "doc-title" {
		t.Fatalf("expected title match ranked first, got %s", results[0].DocumentID)
	}
	if results[0].MatchType != domain.SearchMatchTitle {
		t.Fatalf("expected title match type, got %s", results[0].MatchType)
	}
	if results[0].RelevanceScore != 0.9 {
		t.Fatalf("expected title score 0.9, got %v", results[0].RelevanceScore)
	}
	if results[1].MatchType != domain.SearchMatchContent {
		t.Fatalf("expected content match type, got %s", results[1].MatchType)
	}
	if results[1].RelevanceScore != 0.7 {
		t.Fatalf("expected content score 0.7, got %v", results[1].RelevanceScore)
	}
}

func TestSearchKeywordsMatch(t *testing.T) {
	fx := newSearchFixture(t)

	fx.seedCompleted(t, "doc-kw", "user-1", "Untitled", domain.ProcessingResult{
		Success:  true,
		Keywords: []string{"Kubernetes", "deployment", "rollout"},
	}, domain.ProcessingConfig{})

	results, err := fx.service.Search(context.Background(), "kubernetes deployment", "user-1", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	got := results[0]
	if got.MatchType != domain.SearchMatchKeywords {
		t.Fatalf("expected keywords match type, got %s", got.MatchType)
	}
	// Base 0.5 plus 0.3 scaled by a full keyword score.
	if got.RelevanceScore != 0.8 {
		t.Fatalf("expected keyword score 0.8, got %v", got.RelevanceScore)
	}
	if got.Excerpt != "Keywords: Kubernetes, deployment" {
		t.Fatalf("unexpected keyword excerpt %q", got.Excerpt)
	}
}

func TestSearchSkipsUnsearchableAndForeignDocuments(t *testing.T) {
	fx := newSearchFixture(t)

	disabled := false
	fx.seedCompleted(t, "doc-hidden", "user-1", "Machine Notes", domain.ProcessingResult{
		Success:       true,
		ExtractedText: "machine learning archive",
	}, domain.ProcessingConfig{EnableSearch: &disabled})
	fx.seedCompleted(t, "doc-other-user", "user-2", "Machine Handbook", domain.ProcessingResult{
		Success:       true,
		ExtractedText: "machine learning handbook",
	}, domain.ProcessingConfig{})

	results, err := fx.service.Search(context.Background(), "machine learning", "user-1", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %+v", results)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	fx := newSearchFixture(t)

	for _, id := range []string{"doc-a", "doc-b", "doc-c"} {
		fx.seedCompleted(t, id, "user-1", "Machine Report "+id, domain.ProcessingResult{
			Success:       true,
			ExtractedText: "machine learning content",
		}, domain.ProcessingConfig{})
	}

	results, err := fx.service.Search(context.Background(), "machine", "user-1", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit of 2 results, got %d", len(results))
	}
}

func TestSearchUsesCacheUntilInvalidated(t *testing.T) {
	fx := newSearchFixture(t)
	ctx := context.Background()

	fx.seedCompleted(t, "doc-cached", "user-1", "Machine Guide", domain.ProcessingResult{
		Success:       true,
		ExtractedText: "machine learning content",
	}, domain.ProcessingConfig{})

	first, err := fx.service.Search(ctx, "machine", "user-1", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 result, got %d", len(first))
	}

	// New content lands but the cached response is still served.
	fx.seedCompleted(t, "doc-late", "user-1", "Machine Appendix", domain.ProcessingResult{
		Success:       true,
		ExtractedText: "machine learning appendix",
	}, domain.ProcessingConfig{})

	cached, err := fx.service.Search(ctx, "machine", "user-1", 0)
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("expected cached result set of 1, got %d", len(cached))
	}

	fx.service.InvalidateUser("user-1")

	fresh, err := fx.service.Search(ctx, "machine", "user-1", 0)
	if err != nil {
		t.Fatalf("fresh search: %v", err)
	}
	if len(fresh) != 2 {
		t.Fatalf("expected 2 results after invalidation, got %d", len(fresh))
	}
}

func TestExtractRelevantExcerpt(t *testing.T) {
	t.Run("short text verbatim", func(t *testing.T) {
		text := "short machine learning note"
		if got := extractRelevantExcerpt(text, []string{"machine"}, 200); got != text {
			t.Fatalf("expected verbatim text, got %q", got)
		}
	})

	t.Run("window around keyword cluster", func(t *testing.T) {
		text := strings.Repeat("filler words only here ", 20) +
			"machine learning cluster sits right here" +
			strings.Repeat(" trailing padding text", 20)
		got := extractRelevantExcerpt(text, []string{"machine", "learning", "cluster"}, 100)

		if !strings.Contains(got, "machine learning cluster") {
			t.Fatalf("expected excerpt to contain the keyword cluster, got %q", got)
		}
		if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
			t.Fatalf("expected ellipses on both clipped edges, got %q", got)
		}
	})

	t.Run("no keyword falls back to head", func(t *testing.T) {
		text := strings.Repeat("plain filler content ", 30)
		got := extractRelevantExcerpt(text, []string{"zebra"}, 100)
		if !strings.HasPrefix(got, "plain filler") {
			t.Fatalf("expected excerpt from the start, got %q", got)
		}
		if !strings.HasSuffix(got, "...") {
			t.Fatalf("expected trailing ellipsis, got %q", got)
		}
	})

	t.Run("window edges stay on rune boundaries", func(t *testing.T) {
		// Three-byte runes put the 50-byte window strides mid-character.
		text := strings.Repeat("€", 100) + " machine learning " + strings.Repeat("€", 100)
		got := extractRelevantExcerpt(text, []string{"machine", "learning"}, 100)

		if !utf8.ValidString(got) {
			t.Fatalf("expected valid UTF-8 excerpt, got %q", got)
		}
		if !strings.Contains(got, "machine learning") {
			t.Fatalf("expected excerpt to contain the keywords, got %q", got)
		}
		if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
			t.Fatalf("expected ellipses on both clipped edges, got %q", got)
		}
	})
}

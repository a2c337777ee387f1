package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcosta/docingest-back/internal/cache"
	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/metrics"
	"github.com/mcosta/docingest-back/internal/repository"
)

const (
	titleWeight   = 0.9
	contentWeight = 0.7
	summaryWeight = 0.6

	keywordBaseWeight  = 0.5
	keywordMatchWeight = 0.3

	exactAward     = 1.0
	partialAward   = 0.7
	substringAward = 0.5

	defaultSearchLimit   = 10
	defaultExcerptLength = 200
	excerptStride        = 50
)

// SearchService ranks a user's completed ingestions against a free-text
// query. It is a multi-signal heuristic ranker over extracted content, not a
// search index: four fields are scored independently and the best one decides
// the match type and excerpt.
type SearchService struct {
	ingestions repository.IngestionRepository
	documents  repository.DocumentRepository
	cache      *cache.SearchCache
	metrics    *metrics.Metrics
	logger     *log.Logger
}

func NewSearchService(
	ingestions repository.IngestionRepository,
	documents repository.DocumentRepository,
	searchCache *cache.SearchCache,
	m *metrics.Metrics,
	logger *log.Logger,
) *SearchService {
	return &SearchService{
		ingestions: ingestions,
		documents:  documents,
		cache:      searchCache,
		metrics:    m,
		logger:     logger,
	}
}

// InvalidateUser drops cached responses for a user; called when new content
// becomes searchable.
func (s *SearchService) InvalidateUser(userID string) {
	if s.cache != nil {
		s.cache.InvalidateUser(userID)
	}
}

// Search returns the top ranked documents for the query. An empty result is
// never an error.
func (s *SearchService) Search(ctx context.Context, query, userID string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	queryKeywords := tokenizeQuery(query)
	if len(queryKeywords) == 0 {
		return []domain.SearchResult{}, nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(userID, query, limit); ok {
			return cached, nil
		}
	}

	startedAt := time.Now()
	results, err := s.rank(ctx, queryKeywords, userID, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveSearch(time.Since(startedAt).Seconds())

	if s.cache != nil {
		s.cache.Set(userID, query, limit, results)
	}
	return results, nil
}

func (s *SearchService) rank(
	ctx context.Context,
	queryKeywords []string,
	userID string,
	limit int,
) ([]domain.SearchResult, error) {
	ingestions, err := s.ingestions.FindMany(ctx, domain.IngestionFilter{
		UserID:   userID,
		Statuses: []domain.IngestionStatus{domain.IngestionStatusCompleted},
	})
	if err != nil {
		return nil, err
	}

	// Most recent completed ingestion per document wins; FindMany returns
	// newest first.
	seen := make(map[string]struct{}, len(ingestions))
	results := make([]domain.SearchResult, 0)

	for _, ingestion := range ingestions {
		if _, done := seen[ingestion.DocumentID]; done {
			continue
		}
		seen[ingestion.DocumentID] = struct{}{}

		if !ingestion.Config.Resolved().EnableSearch {
			continue
		}
		processingResult := ingestion.Logs.ProcessingResult
		if processingResult == nil {
			continue
		}

		title := ""
		if document, err := s.documents.Get(ctx, ingestion.DocumentID); err == nil {
			title = document.Title
		}

		match := scoreDocument(title, processingResult, queryKeywords)
		if match.score <= 0 {
			continue
		}

		results = append(results, domain.SearchResult{
			DocumentID:     ingestion.DocumentID,
			Title:          title,
			RelevanceScore: match.score,
			Excerpt:        match.excerpt,
			MatchType:      match.matchType,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

type fieldMatch struct {
	score     float64
	matchType domain.SearchMatchType
	excerpt   string
}

// scoreDocument scores the four candidate fields independently and keeps the
// single best one.
func scoreDocument(title string, result *domain.ProcessingResult, queryKeywords []string) fieldMatch {
	best := fieldMatch{}

	if score := titleWeight * partialMatchScore(title, queryKeywords); score > best.score {
		best = fieldMatch{score: score, matchType: domain.SearchMatchTitle, excerpt: title}
	}

	if content := result.ExtractedText; content != "" {
		if score := contentWeight * partialMatchScore(content, queryKeywords); score > best.score {
			best = fieldMatch{
				score:     score,
				matchType: domain.SearchMatchContent,
				excerpt:   extractRelevantExcerpt(content, queryKeywords, defaultExcerptLength),
			}
		}
	}

	if summary := result.Summary; summary != "" {
		if score := summaryWeight * partialMatchScore(summary, queryKeywords); score > best.score {
			best = fieldMatch{score: score, matchType: domain.SearchMatchSummary, excerpt: summary}
		}
	}

	if keywordScore, matched := keywordMatchScore(result.Keywords, queryKeywords); len(matched) > 0 {
		if score := keywordBaseWeight + keywordMatchWeight*keywordScore; score > best.score {
			best = fieldMatch{
				score:     score,
				matchType: domain.SearchMatchKeywords,
				excerpt:   "Keywords: " + strings.Join(matched, ", "),
			}
		}
	}

	return best
}

// tokenizeQuery lowercases the query and keeps words longer than two
// characters.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	keywords := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) > 2 {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// partialMatchScore awards each query word 1.0 for an exact word match, 0.7
// for a word containing it or contained by it, 0.5 for a raw substring hit
// anywhere in the text, 0 otherwise; the sum is normalized by the query word
// count and capped at 1.0.
func partialMatchScore(text string, queryKeywords []string) float64 {
	if text == "" || len(queryKeywords) == 0 {
		return 0
	}

	lowered := strings.ToLower(text)
	words := strings.Fields(lowered)
	wordSet := make(map[string]struct{}, len(words))
	for _, word := range words {
		wordSet[word] = struct{}{}
	}

	total := 0.0
	for _, keyword := range queryKeywords {
		award := 0.0
		if _, exact := wordSet[keyword]; exact {
			award = exactAward
		} else {
			for word := range wordSet {
				if strings.Contains(word, keyword) || strings.Contains(keyword, word) {
					award = partialAward
					break
				}
			}
			if award == 0 && strings.Contains(lowered, keyword) {
				award = substringAward
			}
		}
		total += award
	}

	score := total / float64(len(queryKeywords))
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// keywordMatchScore applies the exact/partial award scale against the keyword
// list and reports which keywords matched, deduplicated in list order.
func keywordMatchScore(keywords, queryKeywords []string) (float64, []string) {
	if len(keywords) == 0 || len(queryKeywords) == 0 {
		return 0, nil
	}

	matched := make([]string, 0, len(keywords))
	matchedSet := make(map[string]struct{}, len(keywords))
	total := 0.0

	for _, queryKeyword := range queryKeywords {
		award := 0.0
		awardedKeyword := ""
		for _, keyword := range keywords {
			loweredKeyword := strings.ToLower(keyword)
			if loweredKeyword == queryKeyword {
				award = exactAward
				awardedKeyword = keyword
				break
			}
			if award == 0 && (strings.Contains(loweredKeyword, queryKeyword) || strings.Contains(queryKeyword, loweredKeyword)) {
				award = partialAward
				awardedKeyword = keyword
			}
		}
		if award == 0 {
			continue
		}
		total += award
		if _, exists := matchedSet[awardedKeyword]; !exists {
			matchedSet[awardedKeyword] = struct{}{}
			matched = append(matched, awardedKeyword)
		}
	}

	score := total / float64(len(queryKeywords))
	if score > 1.0 {
		score = 1.0
	}
	return score, matched
}

// extractRelevantExcerpt picks a window of up to maxLength characters around
// the densest cluster of query keywords: windows are scanned in 50-character
// strides and the one containing the most distinct keywords wins. Without a
// scoring window it falls back to the first keyword occurrence (centered),
// then to the start of the text. Ellipses mark clipped edges.
func extractRelevantExcerpt(text string, queryKeywords []string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = defaultExcerptLength
	}
	if len(text) <= maxLength {
		return text
	}

	lowered := strings.ToLower(text)

	bestStart, bestCount := -1, 0
	for start := 0; start < len(lowered); start += excerptStride {
		end := start + maxLength
		if end > len(lowered) {
			end = len(lowered)
		}
		window := lowered[start:end]

		count := 0
		for _, keyword := range queryKeywords {
			if strings.Contains(window, keyword) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestStart = start
		}
	}

	if bestStart < 0 {
		// No window scored; center on the first raw occurrence of any
		// keyword.
		firstIndex := -1
		for _, keyword := range queryKeywords {
			if index := strings.Index(lowered, keyword); index >= 0 && (firstIndex < 0 || index < firstIndex) {
				firstIndex = index
			}
		}
		if firstIndex >= 0 {
			bestStart = firstIndex - maxLength/2
			if bestStart < 0 {
				bestStart = 0
			}
		} else {
			bestStart = 0
		}
	}

	// Offsets were computed over the lowercased text, which can differ in
	// byte length for some runes; clamp back into the original and align to
	// rune boundaries so a window edge never splits a multi-byte character.
	if bestStart > len(text) {
		bestStart = len(text)
	}
	bestStart = alignToRuneStart(text, bestStart)

	end := bestStart + maxLength
	if end > len(text) {
		end = len(text)
	}
	end = alignToRuneStart(text, end)

	excerpt := text[bestStart:end]
	if bestStart > 0 {
		excerpt = "..." + excerpt
	}
	if end < len(text) {
		excerpt += "..."
	}
	return excerpt
}

func alignToRuneStart(text string, index int) int {
	for index > 0 && index < len(text) && !utf8.RuneStart(text[index]) {
		index--
	}
	return index
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"billscope-backend/llm"
	"billscope-backend/models"

	"github.com/google/uuid"
)

// ScrapeStore is the raw scrape side of ingestion. GetByID returns
// (nil, nil) for an unknown id.
type ScrapeStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RawScrape, error)
	ListUnprocessed(ctx context.Context, limit int) ([]models.RawScrape, error)
}

// ChunkWriter stores a document's chunks and marks the owning scrape
// processed in one atomic operation.
type ChunkWriter interface {
	StoreForScrape(ctx context.Context, scrapeID, documentID uuid.UUID, chunks []models.DocumentChunk, storageURI *string) error
}

// BlobStore is the optional archive for original scrape payloads.
type BlobStore interface {
	Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error)
}

const (
	defaultChunkSize      = 1000
	defaultChunkOverlap   = 100
	sentenceSearchWindow  = 100
	defaultIngestionBatch = 20
)

// priorityFields is the ordered list of payload keys tried when extracting
// text from a mapping payload.
var priorityFields = []string{"text", "content", "body", "description", "summary", "title"}

// IngestionService turns raw scrapes into embedded, searchable chunks.
// Empty input and embedding failure are modeled as "nothing happened"
// (count 0, no error) so pollers can treat every outcome uniformly.
type IngestionService struct {
	scrapes      ScrapeStore
	chunkWriter  ChunkWriter
	embedder     llm.EmbeddingService
	blobs        BlobStore
	chunkSize    int
	chunkOverlap int
}

// IngestionServiceOption is a functional option for IngestionService
type IngestionServiceOption func(*IngestionService)

// IngestionWithScrapeStore sets the raw scrape store
func IngestionWithScrapeStore(store ScrapeStore) IngestionServiceOption {
	return func(s *IngestionService) {
		s.scrapes = store
	}
}

// IngestionWithChunkWriter sets the chunk store
func IngestionWithChunkWriter(writer ChunkWriter) IngestionServiceOption {
	return func(s *IngestionService) {
		s.chunkWriter = writer
	}
}

// IngestionWithEmbedder sets the embedding service
func IngestionWithEmbedder(embedder llm.EmbeddingService) IngestionServiceOption {
	return func(s *IngestionService) {
		s.embedder = embedder
	}
}

// IngestionWithBlobStore sets the optional payload archive
func IngestionWithBlobStore(blobs BlobStore) IngestionServiceOption {
	return func(s *IngestionService) {
		s.blobs = blobs
	}
}

// IngestionWithChunking overrides the chunk window size and overlap
func IngestionWithChunking(size, overlap int) IngestionServiceOption {
	return func(s *IngestionService) {
		if size > 0 {
			s.chunkSize = size
		}
		if overlap >= 0 {
			s.chunkOverlap = overlap
		}
	}
}

// NewIngestionService creates an ingestion service
func NewIngestionService(opts ...IngestionServiceOption) *IngestionService {
	s := &IngestionService{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessRawScrape extracts, chunks, embeds and stores one scrape, returning
// the number of chunks written. An absent or already-processed scrape, empty
// extracted text, or an embedding failure all return 0 with no side effects:
// nothing is marked processed unless chunk storage succeeded.
func (s *IngestionService) ProcessRawScrape(ctx context.Context, scrapeID uuid.UUID) (int, error) {
	if s.scrapes == nil {
		return 0, errors.New("scrape store not set")
	}
	if s.chunkWriter == nil {
		return 0, errors.New("chunk writer not set")
	}
	if s.embedder == nil {
		return 0, errors.New("embedding service not set")
	}

	scrape, err := s.scrapes.GetByID(ctx, scrapeID)
	if err != nil {
		return 0, err
	}
	if scrape == nil || scrape.Processed {
		return 0, nil
	}

	text := extractPlainText(scrape.Data.V)
	if strings.TrimSpace(text) == "" {
		log.Printf("Warning: scrape %s produced no extractable text, skipping", scrapeID)
		return 0, nil
	}

	segments := chunkText(text, s.chunkSize, s.chunkOverlap)
	if len(segments) == 0 {
		return 0, nil
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, segments)
	if err != nil {
		log.Printf("Warning: embedding failed for scrape %s, nothing stored: %v", scrapeID, err)
		return 0, nil
	}
	if len(embeddings) != len(segments) {
		log.Printf("Warning: embedding count mismatch for scrape %s, nothing stored", scrapeID)
		return 0, nil
	}

	documentID := uuid.New()
	chunks := make([]models.DocumentChunk, 0, len(segments))
	for _, segment := range segments {
		metadata := mergeScrapeMetadata(scrape)
		chunks = append(chunks, models.DocumentChunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			Content:    segment,
			Metadata:   metadata,
		})
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	var storageURI *string
	if s.blobs != nil {
		if uri := s.archivePayload(ctx, scrape); uri != "" {
			storageURI = &uri
		}
	}

	if err := s.chunkWriter.StoreForScrape(ctx, scrapeID, documentID, chunks, storageURI); err != nil {
		return 0, fmt.Errorf("failed to store chunks for scrape %s: %w", scrapeID, err)
	}

	return len(chunks), nil
}

// ProcessPending ingests up to limit unprocessed scrapes, returning the
// count that produced chunks. Per-scrape failures are logged and skipped so
// one bad payload never blocks the queue.
func (s *IngestionService) ProcessPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultIngestionBatch
	}
	scrapes, err := s.scrapes.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, scrape := range scrapes {
		count, err := s.ProcessRawScrape(ctx, scrape.ID)
		if err != nil {
			log.Printf("Warning: failed to ingest scrape %s: %v", scrape.ID, err)
			continue
		}
		if count > 0 {
			ingested++
		}
	}
	return ingested, nil
}

// archivePayload uploads the original payload to blob storage. Failure to
// archive is logged, not fatal: the chunks are the product, the archive is a
// convenience.
func (s *IngestionService) archivePayload(ctx context.Context, scrape *models.RawScrape) string {
	payload, err := json.Marshal(scrape.Data.V)
	if err != nil {
		log.Printf("Warning: failed to serialize payload for scrape %s: %v", scrape.ID, err)
		return ""
	}
	filename := fmt.Sprintf("scrape_%s.json", scrape.ID)
	uri, err := s.blobs.Upload(ctx, scrape.ID, filename, bytes.NewReader(payload))
	if err != nil {
		log.Printf("Warning: failed to archive payload for scrape %s: %v", scrape.ID, err)
		return ""
	}
	return uri
}

// mergeScrapeMetadata combines the scrape's own metadata (when the payload
// carries a "metadata" object) with its identifying fields.
func mergeScrapeMetadata(scrape *models.RawScrape) models.JSONMap {
	metadata := models.JSONMap{}
	if m, ok := scrape.Data.V.(map[string]interface{}); ok {
		if own, ok := m["metadata"].(map[string]interface{}); ok {
			for k, v := range own {
				metadata[k] = v
			}
		}
	}
	metadata["source_id"] = scrape.SourceID.String()
	metadata["scrape_id"] = scrape.ID.String()
	metadata["content_type"] = scrape.ContentType
	return metadata
}

var (
	markupTagPattern  = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	htmlScriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

// stripMarkup removes tags and collapses whitespace in an HTML-ish payload.
func stripMarkup(s string) string {
	s = htmlScriptPattern.ReplaceAllString(s, " ")
	s = markupTagPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// extractPlainText pulls readable text out of a heterogeneous scrape
// payload: strings are stripped of markup; mappings are searched through the
// prioritized field list, falling back to concatenating every scalar value.
func extractPlainText(payload interface{}) string {
	switch v := payload.(type) {
	case string:
		return stripMarkup(v)
	case map[string]interface{}:
		for _, field := range priorityFields {
			if s, ok := v[field].(string); ok && strings.TrimSpace(s) != "" {
				return stripMarkup(s)
			}
		}
		// No recognized field: concatenate scalar values in key order so the
		// result is deterministic.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			switch scalar := v[k].(type) {
			case string:
				if strings.TrimSpace(scalar) != "" {
					parts = append(parts, stripMarkup(scalar))
				}
			case float64:
				parts = append(parts, fmt.Sprintf("%v", scalar))
			case bool:
				parts = append(parts, fmt.Sprintf("%v", scalar))
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		return ""
	}
}

// chunkText splits text into overlapping windows of up to size characters.
// Windows start on the fixed grid 0, size-overlap, 2(size-overlap), ...; the
// end boundary scans backward up to sentenceSearchWindow characters for a
// sentence terminator followed by whitespace and snaps to it when found. The
// final window is truncated to the remaining text. Offsets are in runes, not
// bytes: legislative text carries em-dashes and curly quotes, and a window
// boundary must never split a multibyte character. Deterministic: identical
// input and parameters always produce identical chunks.
func chunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToSentenceBoundary(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if start+size >= len(runes) {
			break
		}
	}
	return chunks
}

// snapToSentenceBoundary scans backward from the naive window end for a
// sentence terminator ('.', '!', '?' followed by whitespace) within the
// search window and returns the rune position just past it, or the naive end.
func snapToSentenceBoundary(runes []rune, start, naiveEnd int) int {
	limit := naiveEnd - sentenceSearchWindow
	if limit < start+1 {
		limit = start + 1
	}
	for i := naiveEnd - 1; i >= limit; i-- {
		c := runes[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	return naiveEnd
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"billscope-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScrapeStore struct {
	scrapes map[uuid.UUID]*models.RawScrape
}

func (f *fakeScrapeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.RawScrape, error) {
	return f.scrapes[id], nil
}

func (f *fakeScrapeStore) ListUnprocessed(ctx context.Context, limit int) ([]models.RawScrape, error) {
	var out []models.RawScrape
	for _, s := range f.scrapes {
		if !s.Processed {
			out = append(out, *s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeChunkWriter struct {
	calls  int
	chunks []models.DocumentChunk
	err    error
}

func (f *fakeChunkWriter) StoreForScrape(ctx context.Context, scrapeID, documentID uuid.UUID, chunks []models.DocumentChunk, storageURI *string) error {
	f.calls++
	f.chunks = chunks
	return f.err
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func newTestScrape(data interface{}) *models.RawScrape {
	return &models.RawScrape{
		ID:          uuid.New(),
		SourceID:    uuid.New(),
		URL:         "https://legislature.example.gov/bills/hb-101",
		ContentType: "json",
		Data:        models.JSONValue{V: data},
	}
}

func newTestIngestion(store *fakeScrapeStore, writer *fakeChunkWriter, embedder *fakeEmbedder) *IngestionService {
	return NewIngestionService(
		IngestionWithScrapeStore(store),
		IngestionWithChunkWriter(writer),
		IngestionWithEmbedder(embedder),
		IngestionWithChunking(200, 40),
	)
}

func TestProcessRawScrapeStoresChunks(t *testing.T) {
	longText := strings.Repeat("The housing levy raises median rents. ", 20)
	scrape := newTestScrape(map[string]interface{}{"text": longText})
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{scrape.ID: scrape}}
	writer := &fakeChunkWriter{}
	embedder := &fakeEmbedder{}

	svc := newTestIngestion(store, writer, embedder)
	count, err := svc.ProcessRawScrape(context.Background(), scrape.ID)

	require.NoError(t, err)
	assert.Greater(t, count, 1)
	assert.Equal(t, 1, writer.calls)
	require.Len(t, writer.chunks, count)

	docID := writer.chunks[0].DocumentID
	for _, chunk := range writer.chunks {
		assert.Equal(t, docID, chunk.DocumentID)
		assert.NotEmpty(t, chunk.Embedding)
		assert.Equal(t, scrape.ID.String(), chunk.Metadata["scrape_id"])
		assert.Equal(t, scrape.SourceID.String(), chunk.Metadata["source_id"])
	}
}

func TestProcessRawScrapeMissingScrape(t *testing.T) {
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{}}
	writer := &fakeChunkWriter{}
	svc := newTestIngestion(store, writer, &fakeEmbedder{})

	count, err := svc.ProcessRawScrape(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, writer.calls)
}

func TestProcessRawScrapeAlreadyProcessed(t *testing.T) {
	scrape := newTestScrape(map[string]interface{}{"text": "anything"})
	scrape.Processed = true
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{scrape.ID: scrape}}
	writer := &fakeChunkWriter{}
	embedder := &fakeEmbedder{}
	svc := newTestIngestion(store, writer, embedder)

	count, err := svc.ProcessRawScrape(context.Background(), scrape.ID)

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, embedder.calls)
}

func TestProcessRawScrapeEmptyText(t *testing.T) {
	scrape := newTestScrape(map[string]interface{}{"text": "   "})
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{scrape.ID: scrape}}
	writer := &fakeChunkWriter{}
	svc := newTestIngestion(store, writer, &fakeEmbedder{})

	count, err := svc.ProcessRawScrape(context.Background(), scrape.ID)

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, writer.calls)
	assert.False(t, scrape.Processed)
}

func TestProcessRawScrapeEmbeddingFailure(t *testing.T) {
	scrape := newTestScrape(map[string]interface{}{"text": "A bill to amend the sales tax."})
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{scrape.ID: scrape}}
	writer := &fakeChunkWriter{}
	embedder := &fakeEmbedder{err: errors.New("quota exhausted")}
	svc := newTestIngestion(store, writer, embedder)

	count, err := svc.ProcessRawScrape(context.Background(), scrape.ID)

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, writer.calls)
}

func TestProcessRawScrapeStorageFailure(t *testing.T) {
	scrape := newTestScrape(map[string]interface{}{"text": "A bill to amend the sales tax."})
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{scrape.ID: scrape}}
	writer := &fakeChunkWriter{err: errors.New("connection reset")}
	svc := newTestIngestion(store, writer, &fakeEmbedder{})

	count, err := svc.ProcessRawScrape(context.Background(), scrape.ID)

	require.Error(t, err)
	assert.Equal(t, 0, count)
}

func TestExtractPlainTextString(t *testing.T) {
	got := extractPlainText("<html><body><script>var x;</script><p>Section 1. Fees.</p></body></html>")
	assert.Equal(t, "Section 1. Fees.", got)
}

func TestExtractPlainTextFieldPriority(t *testing.T) {
	got := extractPlainText(map[string]interface{}{
		"title":   "HB 101",
		"content": "The act takes effect July 1.",
	})
	assert.Equal(t, "The act takes effect July 1.", got)
}

func TestExtractPlainTextScalarFallback(t *testing.T) {
	got := extractPlainText(map[string]interface{}{
		"zeta":  "second",
		"alpha": "first",
		"count": float64(3),
	})
	assert.Equal(t, "first 3 second", got)
}

func TestChunkTextShortInput(t *testing.T) {
	chunks := chunkText("A short bill.", 1000, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short bill.", chunks[0])
}

func TestChunkTextSnapsToSentenceBoundary(t *testing.T) {
	first := "The levy applies to all parcels. "
	text := first + strings.Repeat("Exemptions are listed in section four. ", 10)
	chunks := chunkText(text, len(first)+20, 10)

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.TrimSpace(first), chunks[0])
}

func TestChunkTextKeepsMultibyteRunesIntact(t *testing.T) {
	// Em-dashes and curly quotes are multibyte in UTF-8; a window boundary
	// must never land inside one.
	text := strings.Repeat("fee—surcharge—levy—“annual” adjustment. ", 40)
	chunks := chunkText(text, 100, 20)

	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk), "chunk %d is not valid UTF-8: %q", i, chunk)
	}
	assert.Contains(t, chunks[0], "—")
	assert.Equal(t, chunks, chunkText(text, 100, 20))
}

func TestProcessRawScrapeMultibyteContent(t *testing.T) {
	text := strings.Repeat("The measure—per §3(b)—raises “registration” fees. ", 30)
	scrape := newTestScrape(map[string]interface{}{"text": text})
	store := &fakeScrapeStore{scrapes: map[uuid.UUID]*models.RawScrape{scrape.ID: scrape}}
	writer := &fakeChunkWriter{}
	svc := newTestIngestion(store, writer, &fakeEmbedder{})

	count, err := svc.ProcessRawScrape(context.Background(), scrape.ID)

	require.NoError(t, err)
	assert.Greater(t, count, 1)
	for _, chunk := range writer.chunks {
		assert.True(t, utf8.ValidString(chunk.Content))
	}
}

func TestChunkTextDeterministic(t *testing.T) {
	text := strings.Repeat("Utility rates increase by four percent annually. ", 30)
	a := chunkText(text, 300, 60)
	b := chunkText(text, 300, 60)
	assert.Equal(t, a, b)
	assert.Greater(t, len(a), 1)
}

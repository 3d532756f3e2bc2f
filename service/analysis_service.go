package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"billscope-backend/llm"
	"billscope-backend/models"
	"billscope-backend/search"

	"github.com/google/uuid"
)

// RunStore persists pipeline runs and their terminal transitions.
type RunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Complete(ctx context.Context, id uuid.UUID, result models.JSONMap) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// StepStore records per-stage audit entries, unique per (run, step number).
type StepStore interface {
	Upsert(ctx context.Context, step *models.PipelineStep) error
}

// ImpactStore persists the final per-bill impacts.
type ImpactStore interface {
	ReplaceForRun(ctx context.Context, runID, billID uuid.UUID, impacts []models.Impact) error
}

// LegislationStore flips the bill's analysis status on completion.
type LegislationStore interface {
	UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status models.AnalysisStatus) error
}

// ChunkSearcher is the similarity-search side of the retrieval backend.
type ChunkSearcher interface {
	Search(ctx context.Context, queryEmbedding []float64, topK int, minScore *float64, filters models.JSONMap) ([]models.RetrievedChunk, error)
}

// AnalyzeRequest carries everything the pipeline needs for one bill.
type AnalyzeRequest struct {
	BillID       uuid.UUID             `json:"bill_id"`
	BillNumber   string                `json:"bill_number"`
	BillText     string                `json:"bill_text"`
	Jurisdiction string                `json:"jurisdiction"`
	Models       models.ModelSelection `json:"models"`
}

const (
	defaultResearchConcurrency = 4
	defaultResearchResultCount = 5
	defaultRetrievalTopK       = 5
	billExcerptLength          = 400
)

// researchTemplates are crossed with jurisdiction and bill number to build
// the research query set.
var researchTemplates = []string{
	"cost of living impact",
	"fiscal analysis",
	"economic impact on households",
	"opposition arguments",
	"supporter arguments",
}

// AnalysisService drives the research, generate, review and refine stages
// for one bill. Stages run strictly in order; only the research queries
// inside stage one fan out concurrently. Every stage writes an auditable
// step record before the next stage starts.
type AnalysisService struct {
	runs                RunStore
	steps               StepStore
	impacts             ImpactStore
	legislation         LegislationStore
	searcher            search.Client
	executor            *llm.Executor
	retriever           ChunkSearcher
	embedder            llm.EmbeddingService
	researchConcurrency int
	researchResultCount int
}

// AnalysisServiceOption is a functional option for AnalysisService
type AnalysisServiceOption func(*AnalysisService)

// AnalysisWithRunStore sets the pipeline run store
func AnalysisWithRunStore(runs RunStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.runs = runs
	}
}

// AnalysisWithStepStore sets the pipeline step store
func AnalysisWithStepStore(steps StepStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.steps = steps
	}
}

// AnalysisWithImpactStore sets the impact store
func AnalysisWithImpactStore(impacts ImpactStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.impacts = impacts
	}
}

// AnalysisWithLegislationStore sets the legislation store
func AnalysisWithLegislationStore(bills LegislationStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.legislation = bills
	}
}

// AnalysisWithSearchClient sets the web search client (normally the cached
// client).
func AnalysisWithSearchClient(client search.Client) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.searcher = client
	}
}

// AnalysisWithExecutor sets the model fallback executor
func AnalysisWithExecutor(executor *llm.Executor) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.executor = executor
	}
}

// AnalysisWithRetrieval enables pulling previously ingested chunk context
// into the generation prompt.
func AnalysisWithRetrieval(retriever ChunkSearcher, embedder llm.EmbeddingService) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.retriever = retriever
		s.embedder = embedder
	}
}

// AnalysisWithResearchConcurrency bounds the research-stage fan-out
func AnalysisWithResearchConcurrency(n int) AnalysisServiceOption {
	return func(s *AnalysisService) {
		if n > 0 {
			s.researchConcurrency = n
		}
	}
}

// NewAnalysisService creates an analysis pipeline service
func NewAnalysisService(opts ...AnalysisServiceOption) *AnalysisService {
	s := &AnalysisService{
		researchConcurrency: defaultResearchConcurrency,
		researchResultCount: defaultResearchResultCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartAnalysis persists a new run in the running state. Callers that want
// asynchronous execution create the run here, return its id, and call
// Execute from a goroutine.
func (s *AnalysisService) StartAnalysis(ctx context.Context, req AnalyzeRequest) (*models.PipelineRun, error) {
	if s.runs == nil {
		return nil, errors.New("run store not set")
	}
	if s.executor == nil {
		return nil, errors.New("model executor not set")
	}
	if req.BillNumber == "" {
		return nil, errors.New("bill number is required")
	}

	run := &models.PipelineRun{
		BillID:       req.BillID,
		Jurisdiction: req.Jurisdiction,
		Models:       req.Models,
		Status:       models.RunStatusRunning,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return run, nil
}

// Analyze runs the full pipeline synchronously for one bill.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*models.LegislationAnalysisResponse, error) {
	run, err := s.StartAnalysis(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, run.ID, req)
}

// Execute drives an already-created run through all stages. Any stage error
// marks the run failed with the stringified error and returns the original
// error; the run is never left in the running state on a known failure.
func (s *AnalysisService) Execute(ctx context.Context, runID uuid.UUID, req AnalyzeRequest) (*models.LegislationAnalysisResponse, error) {
	analysis, err := s.execute(ctx, runID, req)
	if err != nil {
		if failErr := s.runs.Fail(ctx, runID, err.Error()); failErr != nil {
			log.Printf("Warning: failed to mark run %s failed: %v", runID, failErr)
		}
		return nil, err
	}
	return analysis, nil
}

func (s *AnalysisService) execute(ctx context.Context, runID uuid.UUID, req AnalyzeRequest) (*models.LegislationAnalysisResponse, error) {
	envelopes, err := s.runResearch(ctx, runID, req)
	if err != nil {
		return nil, err
	}

	analysis, err := s.runGenerate(ctx, runID, req, envelopes)
	if err != nil {
		return nil, err
	}

	critique, err := s.runReview(ctx, runID, req, analysis, envelopes)
	if err != nil {
		return nil, err
	}

	if !critique.Passed {
		analysis, err = s.runRefine(ctx, runID, req, analysis, critique)
		if err != nil {
			return nil, err
		}
	}

	if err := s.complete(ctx, runID, req, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// runResearch expands the query set, fans the searches out under a bounded
// semaphore, merges the results with a deterministic URL dedup in query
// order, and records step 1. Individual query failures are warnings; the
// stage only fails when every query fails.
func (s *AnalysisService) runResearch(ctx context.Context, runID uuid.UUID, req AnalyzeRequest) ([]models.EvidenceEnvelope, error) {
	started := time.Now()
	queries := buildResearchQueries(req.Jurisdiction, req.BillNumber, req.BillText)

	type queryOutcome struct {
		results []models.SearchResult
		err     error
	}
	outcomes := make([]queryOutcome, len(queries))

	if s.searcher != nil {
		sem := make(chan struct{}, s.researchConcurrency)
		var wg sync.WaitGroup
		for i, query := range queries {
			wg.Add(1)
			go func(i int, query string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				results, err := s.searcher.Search(ctx, search.SearchQuery{
					Query: query,
					Count: s.researchResultCount,
				})
				outcomes[i] = queryOutcome{results: results, err: err}
			}(i, query)
		}
		wg.Wait()
	}

	var envelopes []models.EvidenceEnvelope
	seen := make(map[string]bool)
	failures := 0
	resultCount := 0
	for i, query := range queries {
		if outcomes[i].err != nil {
			log.Printf("Warning: research query %q failed: %v", query, outcomes[i].err)
			failures++
			continue
		}
		var kept []models.SearchResult
		for _, r := range outcomes[i].results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			continue
		}
		envelopes = append(envelopes, models.EnvelopeFromSearchResults("web_search", query, kept))
		resultCount += len(kept)
	}

	if s.searcher != nil && failures == len(queries) {
		return nil, errors.New("research stage failed: every search query errored")
	}

	if chunkEnv := s.retrieveChunkContext(ctx, req); chunkEnv != nil {
		envelopes = append(envelopes, *chunkEnv)
		resultCount += len(chunkEnv.Evidence)
	}

	step := &models.PipelineStep{
		RunID:      runID,
		StepNumber: 1,
		StepName:   "research",
		Status:     "completed",
		InputContext: models.JSONMap{
			"queries": queries,
		},
		OutputResult: models.JSONMap{
			"result_count":   resultCount,
			"envelope_count": len(envelopes),
			"failed_queries": failures,
		},
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err := s.steps.Upsert(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to record research step: %w", err)
	}
	return envelopes, nil
}

// retrieveChunkContext pulls previously ingested document chunks related to
// the bill. Retrieval is best-effort context enrichment; failure never fails
// the run.
func (s *AnalysisService) retrieveChunkContext(ctx context.Context, req AnalyzeRequest) *models.EvidenceEnvelope {
	if s.retriever == nil || s.embedder == nil {
		return nil
	}

	query := req.BillNumber + " " + excerpt(req.BillText, billExcerptLength)
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		log.Printf("Warning: failed to embed retrieval query for bill %s: %v", req.BillNumber, err)
		return nil
	}

	chunks, err := s.retriever.Search(ctx, embedding, defaultRetrievalTopK, nil, nil)
	if err != nil {
		log.Printf("Warning: chunk retrieval failed for bill %s: %v", req.BillNumber, err)
		return nil
	}
	if len(chunks) == 0 {
		return nil
	}

	env := models.EvidenceEnvelope{
		SourceTool:  "document_retrieval",
		SourceQuery: query,
		Evidence:    make([]models.Evidence, 0, len(chunks)),
	}
	for _, c := range chunks {
		env.Evidence = append(env.Evidence, models.Evidence{
			Kind:          "document_chunk",
			Label:         fmt.Sprintf("chunk %s", c.Chunk.ID),
			Content:       c.Chunk.Content,
			Excerpt:       excerpt(c.Chunk.Content, 200),
			Metadata:      map[string]interface{}{"score": c.Score},
			ProducingTool: "document_retrieval",
		})
	}
	return &env
}

// runGenerate asks the generate chain for a structured draft analysis and
// records step 2.
func (s *AnalysisService) runGenerate(ctx context.Context, runID uuid.UUID, req AnalyzeRequest, envelopes []models.EvidenceEnvelope) (*models.LegislationAnalysisResponse, error) {
	started := time.Now()

	system := "You are a neutral legislative analyst. Analyze the bill's cost-of-living " +
		"impact on households. Every impact must cite at least one piece of the provided " +
		"evidence and include a five-point cost distribution in annual USD per household. " +
		"Do not speculate beyond the bill text and evidence."
	user := fmt.Sprintf(
		"Bill %s (%s):\n\n%s\n\nResearch findings:\n%s",
		req.BillNumber, req.Jurisdiction, req.BillText, formatEvidence(envelopes),
	)

	var analysis models.LegislationAnalysisResponse
	result, err := s.executor.CallWithFallback(ctx, req.Models.Generate, "generate", system, user, &analysis)
	if err != nil {
		return nil, fmt.Errorf("generate stage failed: %w", err)
	}

	analysis.BillNumber = req.BillNumber
	analysis.ModelUsed = result.Model
	analysis.AnalysisTimestamp = time.Now().UTC()
	analysis.RecomputeTotal()

	modelInfo := result.Model
	step := &models.PipelineStep{
		RunID:      runID,
		StepNumber: 2,
		StepName:   "generate",
		Status:     "completed",
		InputContext: models.JSONMap{
			"bill_number":    req.BillNumber,
			"envelope_count": len(envelopes),
		},
		OutputResult: models.JSONMap{
			"impact_count":     len(analysis.Impacts),
			"total_impact_p50": analysis.TotalImpactP50,
		},
		ModelInfo:  &modelInfo,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err := s.steps.Upsert(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to record generate step: %w", err)
	}
	return &analysis, nil
}

// runReview audits the draft against the research data with the review chain
// and records step 3.
func (s *AnalysisService) runReview(ctx context.Context, runID uuid.UUID, req AnalyzeRequest, analysis *models.LegislationAnalysisResponse, envelopes []models.EvidenceEnvelope) (*models.ReviewCritique, error) {
	started := time.Now()

	draft, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize draft analysis: %w", err)
	}

	system := "You are a strict auditor of legislative cost analyses. Verify every claim " +
		"against the evidence, flag missing impacts and factual errors, and fail the " +
		"analysis unless it is complete and well supported."
	user := fmt.Sprintf(
		"Draft analysis for bill %s:\n%s\n\nResearch findings:\n%s",
		req.BillNumber, string(draft), formatEvidence(envelopes),
	)

	var critique models.ReviewCritique
	result, err := s.executor.CallWithFallback(ctx, req.Models.Review, "review", system, user, &critique)
	if err != nil {
		return nil, fmt.Errorf("review stage failed: %w", err)
	}

	modelInfo := result.Model
	step := &models.PipelineStep{
		RunID:      runID,
		StepNumber: 3,
		StepName:   "review",
		Status:     "completed",
		InputContext: models.JSONMap{
			"bill_number":  req.BillNumber,
			"impact_count": len(analysis.Impacts),
		},
		OutputResult: models.JSONMap{
			"passed":   critique.Passed,
			"critique": critique.Critique,
		},
		ModelInfo:  &modelInfo,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err := s.steps.Upsert(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to record review step: %w", err)
	}
	return &critique, nil
}

// runRefine corrects a draft that failed review. It runs at most once per
// pipeline invocation and its output is not re-reviewed.
func (s *AnalysisService) runRefine(ctx context.Context, runID uuid.UUID, req AnalyzeRequest, analysis *models.LegislationAnalysisResponse, critique *models.ReviewCritique) (*models.LegislationAnalysisResponse, error) {
	started := time.Now()

	draft, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize draft analysis: %w", err)
	}
	critiqueJSON, err := json.Marshal(critique)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize review critique: %w", err)
	}

	system := "You are a neutral legislative analyst. Correct the draft analysis to " +
		"address every point in the reviewer's critique while keeping all claims " +
		"evidence-cited."
	user := fmt.Sprintf(
		"Bill %s (%s):\n\n%s\n\nPrior draft:\n%s\n\nReviewer critique:\n%s",
		req.BillNumber, req.Jurisdiction, req.BillText, string(draft), string(critiqueJSON),
	)

	var refined models.LegislationAnalysisResponse
	result, err := s.executor.CallWithFallback(ctx, req.Models.Generate, "refine", system, user, &refined)
	if err != nil {
		return nil, fmt.Errorf("refine stage failed: %w", err)
	}

	refined.BillNumber = req.BillNumber
	refined.ModelUsed = result.Model
	refined.AnalysisTimestamp = time.Now().UTC()
	refined.RecomputeTotal()

	modelInfo := result.Model
	step := &models.PipelineStep{
		RunID:      runID,
		StepNumber: 4,
		StepName:   "refine",
		Status:     "completed",
		InputContext: models.JSONMap{
			"bill_number": req.BillNumber,
			"critique":    critique.Critique,
		},
		OutputResult: models.JSONMap{
			"impact_count":     len(refined.Impacts),
			"total_impact_p50": refined.TotalImpactP50,
		},
		ModelInfo:  &modelInfo,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err := s.steps.Upsert(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to record refine step: %w", err)
	}
	return &refined, nil
}

// complete performs the run's terminal success transition: persist the final
// analysis on the run, replace the bill's impacts, and mark the bill
// analyzed.
func (s *AnalysisService) complete(ctx context.Context, runID uuid.UUID, req AnalyzeRequest, analysis *models.LegislationAnalysisResponse) error {
	serialized, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to serialize final analysis: %w", err)
	}
	var result models.JSONMap
	if err := json.Unmarshal(serialized, &result); err != nil {
		return fmt.Errorf("failed to build run result: %w", err)
	}

	if err := s.runs.Complete(ctx, runID, result); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	// The run is already terminal at this point: if the impact write below
	// fails, the run stays completed (Fail is status-guarded) with its
	// result JSON intact but no impact rows. The error still reaches the
	// caller; re-running the analysis produces a fresh run.
	if s.impacts != nil {
		if err := s.impacts.ReplaceForRun(ctx, runID, req.BillID, analysis.Impacts); err != nil {
			return fmt.Errorf("failed to store impacts: %w", err)
		}
	}
	if s.legislation != nil {
		if err := s.legislation.UpdateAnalysisStatus(ctx, req.BillID, models.AnalysisStatusCompleted); err != nil {
			log.Printf("Warning: failed to update analysis status for bill %s: %v", req.BillID, err)
		}
	}
	return nil
}

// buildResearchQueries crosses the query templates with the bill identifier
// and appends one excerpt-derived query. Order is fixed so URL dedup across
// queries is deterministic.
func buildResearchQueries(jurisdiction, billNumber, billText string) []string {
	prefix := strings.TrimSpace(jurisdiction + " " + billNumber)
	queries := make([]string, 0, len(researchTemplates)+1)
	for _, template := range researchTemplates {
		queries = append(queries, prefix+" "+template)
	}
	if ex := excerpt(billText, 120); ex != "" {
		queries = append(queries, ex+" cost impact")
	}
	return queries
}

// formatEvidence renders envelopes into the plain-text block fed to the
// generation and review prompts.
func formatEvidence(envelopes []models.EvidenceEnvelope) string {
	if len(envelopes) == 0 {
		return "(no research findings)"
	}
	var b strings.Builder
	for _, env := range envelopes {
		fmt.Fprintf(&b, "[%s] %s\n", env.SourceTool, env.SourceQuery)
		for _, ev := range env.Evidence {
			if ev.URL != nil {
				fmt.Fprintf(&b, "- %s (%s): %s\n", ev.Label, *ev.URL, ev.Content)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", ev.Label, ev.Content)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// excerpt truncates text at a whitespace-collapsed rune limit. Truncating on
// runes keeps a multibyte character at the cut point intact.
func excerpt(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:limit]))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"billscope-backend/llm"
	"billscope-backend/models"
	"billscope-backend/search"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name    string
	fn      func(req llm.CompletionRequest) (string, error)
	calls   int
	prompts []string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	p.calls++
	p.prompts = append(p.prompts, req.User)
	content, err := p.fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResult{Content: content, TokensUsed: 120, CostUSD: 0.01}, nil
}

type fakeRunStore struct {
	created   *models.PipelineRun
	completed bool
	failed    bool
	failedMsg string
	result    models.JSONMap
}

func (f *fakeRunStore) Create(ctx context.Context, run *models.PipelineRun) error {
	run.ID = uuid.New()
	f.created = run
	return nil
}

func (f *fakeRunStore) Complete(ctx context.Context, id uuid.UUID, result models.JSONMap) error {
	f.completed = true
	f.result = result
	return nil
}

func (f *fakeRunStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	f.failed = true
	f.failedMsg = errorMessage
	return nil
}

type fakeStepStore struct {
	steps map[int]models.PipelineStep
}

func (f *fakeStepStore) Upsert(ctx context.Context, step *models.PipelineStep) error {
	if f.steps == nil {
		f.steps = make(map[int]models.PipelineStep)
	}
	step.ID = uuid.New()
	f.steps[step.StepNumber] = *step
	return nil
}

type fakeImpactStore struct {
	impacts []models.Impact
}

func (f *fakeImpactStore) ReplaceForRun(ctx context.Context, runID, billID uuid.UUID, impacts []models.Impact) error {
	f.impacts = impacts
	return nil
}

type fakeLegislationStore struct {
	status models.AnalysisStatus
}

func (f *fakeLegislationStore) UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, status models.AnalysisStatus) error {
	f.status = status
	return nil
}

type fakeSearchClient struct {
	mu      sync.Mutex
	calls   int
	results []models.SearchResult
}

func (f *fakeSearchClient) Search(ctx context.Context, q search.SearchQuery) ([]models.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results, nil
}

func analysisJSON(billNumber string, description string, p50s ...float64) string {
	var impacts []string
	for _, p50 := range p50s {
		impacts = append(impacts, fmt.Sprintf(`{
			"relevant_clause": "Section 2(a)",
			"interpretation": "Imposes a new annual fee on registered vehicles.",
			"impact_description": %q,
			"evidence": [{"kind": "web_result", "label": "Fiscal note", "content": "Fee estimate", "excerpt": "Fee estimate", "producing_tool": "web_search"}],
			"causal_chain": "Fee is charged per vehicle, raising annual household costs.",
			"confidence": 0.8,
			"cost_distribution": {"p10": 0, "p25": 0, "p50": %v, "p75": 0, "p90": 0}
		}`, description, p50))
	}
	return fmt.Sprintf(`{"bill_number": %q, "impacts": [%s], "total_impact_p50": 9999}`,
		billNumber, strings.Join(impacts, ","))
}

func passingReviewJSON() string {
	return `{"passed": true, "critique": "Complete and well supported.", "missing_impacts": [], "factual_errors": []}`
}

func testModels() models.ModelSelection {
	return models.ModelSelection{
		Research: []models.ModelRef{{Model: "gen-model", Provider: "genprov"}},
		Generate: []models.ModelRef{{Model: "gen-model", Provider: "genprov"}},
		Review:   []models.ModelRef{{Model: "review-model", Provider: "revprov"}},
	}
}

func newPipelineFixture(gen, rev *scriptedProvider) (*AnalysisService, *fakeRunStore, *fakeStepStore, *fakeImpactStore, *fakeLegislationStore) {
	runs := &fakeRunStore{}
	steps := &fakeStepStore{}
	impacts := &fakeImpactStore{}
	bills := &fakeLegislationStore{}
	searcher := &fakeSearchClient{results: []models.SearchResult{
		{Title: "Fiscal note", URL: "https://example.gov/fiscal", Snippet: "The fee raises $500 per household."},
	}}

	executor := llm.NewExecutor(llm.WithProvider(gen), llm.WithProvider(rev))
	svc := NewAnalysisService(
		AnalysisWithRunStore(runs),
		AnalysisWithStepStore(steps),
		AnalysisWithImpactStore(impacts),
		AnalysisWithLegislationStore(bills),
		AnalysisWithSearchClient(searcher),
		AnalysisWithExecutor(executor),
	)
	return svc, runs, steps, impacts, bills
}

func TestAnalyzeEndToEnd(t *testing.T) {
	billText := "Section 2(a): a $500 annual registration fee is imposed on every passenger vehicle."

	gen := &scriptedProvider{name: "genprov", fn: func(req llm.CompletionRequest) (string, error) {
		// Only produce the high-impact analysis when the bill context
		// actually reached the prompt.
		if !strings.Contains(req.User, "$500") || !strings.Contains(req.User, "fee") {
			return "", errors.New("prompt missing bill context")
		}
		return analysisJSON("HB 101", "Raises the cost of living for vehicle-owning households.", 500), nil
	}}
	rev := &scriptedProvider{name: "revprov", fn: func(req llm.CompletionRequest) (string, error) {
		return passingReviewJSON(), nil
	}}

	svc, runs, steps, impacts, bills := newPipelineFixture(gen, rev)
	analysis, err := svc.Analyze(context.Background(), AnalyzeRequest{
		BillID:       uuid.New(),
		BillNumber:   "HB 101",
		BillText:     billText,
		Jurisdiction: "CA",
		Models:       testModels(),
	})

	require.NoError(t, err)
	assert.Equal(t, 500.0, analysis.TotalImpactP50)
	assert.Contains(t, analysis.Impacts[0].ImpactDescription, "living")
	assert.Equal(t, "gen-model", analysis.ModelUsed)

	assert.True(t, runs.completed)
	assert.False(t, runs.failed)
	assert.Len(t, impacts.impacts, 1)
	assert.Equal(t, models.AnalysisStatusCompleted, bills.status)

	require.Contains(t, steps.steps, 1)
	require.Contains(t, steps.steps, 2)
	require.Contains(t, steps.steps, 3)
	assert.NotContains(t, steps.steps, 4, "passing review must not trigger refinement")
	assert.Equal(t, "research", steps.steps[1].StepName)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, rev.calls)
}

func TestAnalyzeRecomputesTotal(t *testing.T) {
	gen := &scriptedProvider{name: "genprov", fn: func(req llm.CompletionRequest) (string, error) {
		// Model claims 9999; the pipeline must sum the impact p50s instead.
		return analysisJSON("SB 7", "Increases living costs through utility surcharges.", 100, 250, 50), nil
	}}
	rev := &scriptedProvider{name: "revprov", fn: func(req llm.CompletionRequest) (string, error) {
		return passingReviewJSON(), nil
	}}

	svc, _, _, _, _ := newPipelineFixture(gen, rev)
	analysis, err := svc.Analyze(context.Background(), AnalyzeRequest{
		BillID:       uuid.New(),
		BillNumber:   "SB 7",
		BillText:     "A bill adding utility surcharges.",
		Jurisdiction: "WA",
		Models:       testModels(),
	})

	require.NoError(t, err)
	assert.Equal(t, 400.0, analysis.TotalImpactP50)
}

func TestAnalyzeFailedReviewRefinesOnce(t *testing.T) {
	gen := &scriptedProvider{name: "genprov", fn: func(req llm.CompletionRequest) (string, error) {
		if strings.Contains(req.User, "Reviewer critique") {
			return analysisJSON("HB 9", "Refined: raises living costs via permit fees.", 75), nil
		}
		return analysisJSON("HB 9", "Raises living costs via permit fees.", 60), nil
	}}
	rev := &scriptedProvider{name: "revprov", fn: func(req llm.CompletionRequest) (string, error) {
		return `{"passed": false, "critique": "Missing renter impact.", "missing_impacts": ["renters"], "factual_errors": []}`, nil
	}}

	svc, runs, steps, _, _ := newPipelineFixture(gen, rev)
	analysis, err := svc.Analyze(context.Background(), AnalyzeRequest{
		BillID:       uuid.New(),
		BillNumber:   "HB 9",
		BillText:     "A bill raising permit fees.",
		Jurisdiction: "OR",
		Models:       testModels(),
	})

	require.NoError(t, err)
	assert.Equal(t, 75.0, analysis.TotalImpactP50, "refined draft must replace the original downstream")
	assert.Contains(t, analysis.Impacts[0].ImpactDescription, "Refined")

	assert.Equal(t, 2, gen.calls, "generate once, refine once")
	assert.Equal(t, 1, rev.calls, "refined result is not re-reviewed")
	require.Contains(t, steps.steps, 4)
	assert.Equal(t, "refine", steps.steps[4].StepName)
	assert.True(t, runs.completed)
}

func TestAnalyzeGenerateFailureMarksRunFailed(t *testing.T) {
	gen := &scriptedProvider{name: "genprov", fn: func(req llm.CompletionRequest) (string, error) {
		return "", errors.New("provider down")
	}}
	rev := &scriptedProvider{name: "revprov", fn: func(req llm.CompletionRequest) (string, error) {
		return passingReviewJSON(), nil
	}}

	svc, runs, _, _, bills := newPipelineFixture(gen, rev)
	_, err := svc.Analyze(context.Background(), AnalyzeRequest{
		BillID:       uuid.New(),
		BillNumber:   "HB 2",
		BillText:     "A bill.",
		Jurisdiction: "CA",
		Models:       testModels(),
	})

	require.Error(t, err)
	var allFailed *llm.AllModelsFailedError
	assert.ErrorAs(t, err, &allFailed)
	assert.True(t, runs.failed)
	assert.False(t, runs.completed)
	assert.Contains(t, runs.failedMsg, "generate stage failed")
	assert.Empty(t, bills.status, "failed run must not mark the bill analyzed")
}

func TestResearchDeduplicatesByURL(t *testing.T) {
	var sawPrompt string
	gen := &scriptedProvider{name: "genprov", fn: func(req llm.CompletionRequest) (string, error) {
		sawPrompt = req.User
		return analysisJSON("HB 3", "Raises living costs.", 10), nil
	}}
	rev := &scriptedProvider{name: "revprov", fn: func(req llm.CompletionRequest) (string, error) {
		return passingReviewJSON(), nil
	}}

	svc, _, steps, _, _ := newPipelineFixture(gen, rev)
	_, err := svc.Analyze(context.Background(), AnalyzeRequest{
		BillID:       uuid.New(),
		BillNumber:   "HB 3",
		BillText:     "A bill.",
		Jurisdiction: "CA",
		Models:       testModels(),
	})
	require.NoError(t, err)

	// Every research query returned the same single URL, so the merged
	// evidence must cite it exactly once.
	assert.Equal(t, 1, strings.Count(sawPrompt, "https://example.gov/fiscal"))
	assert.Equal(t, 1, steps.steps[1].OutputResult["result_count"])
}

func TestExcerptKeepsMultibyteRunesIntact(t *testing.T) {
	text := strings.Repeat("levy—“adjusted” fee ", 20)
	got := excerpt(text, 25)

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len([]rune(got)), 25)
	assert.Contains(t, got, "—")
}

func TestBuildResearchQueries(t *testing.T) {
	queries := buildResearchQueries("CA", "HB 101", "An act imposing a vehicle fee.")

	require.Len(t, queries, len(researchTemplates)+1)
	assert.Equal(t, "CA HB 101 cost of living impact", queries[0])
	assert.Contains(t, queries[len(queries)-1], "cost impact")

	again := buildResearchQueries("CA", "HB 101", "An act imposing a vehicle fee.")
	assert.Equal(t, queries, again)
}

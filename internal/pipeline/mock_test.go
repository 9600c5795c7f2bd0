package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/horizonte-ai/atlas/internal/cache"
	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/enrich"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
	"github.com/horizonte-ai/atlas/internal/session"
	"github.com/horizonte-ai/atlas/internal/stage"
	"github.com/horizonte-ai/atlas/pkg/perplexity"
)

// Canned stage replies, all in Portuguese so the language check never
// reruns anything.
const (
	extractionJSON = `{
		"company_facts": {"employee_count": 12, "annual_revenue": 2400000},
		"competitors": ["RivalSoft", "ConcorrenteX"],
		"market_intelligence": {"tendencia": "crescimento de dois dígitos"},
		"industry_trends": ["IA aplicada a PMEs"],
		"news_and_developments": [],
		"customer_intelligence": {"perfil": "PMEs de serviços"},
		"data_gaps": ["histórico de captação"]
	}`

	gapJSON = `{
		"queries": ["histórico de captação TechStart"],
		"priority_gaps": ["histórico de captação"]
	}`

	strategyJSON = `{
		"parte_1_onde_estamos": {
			"resumo_executivo": "Diagnóstico inicial da operação.",
			"analise_swot": {
				"forcas": ["equipe enxuta"],
				"fraquezas": ["dependência do fundador"],
				"oportunidades": ["digitalização do setor"],
				"ameacas": ["entrada de players nacionais"]
			}
		},
		"parte_2_onde_queremos_ir": {
			"tam_sam_som": {"tam": 5000000000, "sam": 400000000, "som": 8000000},
			"posicionamento": "especialista regional"
		},
		"parte_3_como_chegar_la": {
			"okrs_propostos": [
				{"trimestre": "Q1", "objetivo": "Dobrar pipeline comercial"},
				{"trimestre": "Q2", "objetivo": "Lançar plano anual"},
				{"trimestre": "Q3", "objetivo": "Abrir segundo mercado"}
			]
		},
		"parte_4_o_que_fazer_agora": {
			"recomendacoes_prioritarias": [
				"Formalizar funil de vendas",
				"Contratar executivo comercial",
				"Padronizar proposta de valor"
			]
		}
	}`

	competitiveJSON = `{
		"analise_competitiva_detalhada": [
			{"nome": "RivalSoft", "posicionamento": "preço baixo"},
			{"nome": "ConcorrenteX", "posicionamento": "enterprise"},
			{"nome": "AgilTech", "posicionamento": "nicho vertical"},
			{"nome": "SoftBrasil", "posicionamento": "generalista"},
			{"nome": "NuvemPro", "posicionamento": "cloud nativo"}
		],
		"matriz_posicionamento": {"eixos": ["preço", "especialização"]},
		"gaps_competitivos": ["atendimento consultivo"],
		"ameacas_emergentes": ["verticalização dos concorrentes"],
		"oportunidades_diferenciacao": ["integração com ERPs locais"]
	}`

	riskJSON = `{
		"risk_analysis": [
			{"risco": "dependência de poucos clientes", "probability": 0.6, "impact": 8, "mitigation": "diversificar carteira"}
		],
		"recommendation_scoring": [
			{"recomendacao": "Lançar plano anual", "effort": 3, "impact": 8, "roi": {"estimativa": "alta"}}
		],
		"priority_matrix": {},
		"critical_path": [
			{"mes": 1, "acao": "mapear carteira de clientes"}
		]
	}`

	polishJSON = `{
		"parte_1_onde_estamos": {
			"resumo_executivo": "A operação atual mostra uma base sólida com riscos concentrados.",
			"analise_swot": {
				"forcas": ["equipe enxuta"],
				"fraquezas": ["dependência do fundador"],
				"oportunidades": ["digitalização do setor"],
				"ameacas": ["entrada de players nacionais"]
			}
		},
		"parte_2_onde_queremos_ir": {
			"tam_sam_som": {"tam": 5000000000, "sam": 400000000, "som": 8000000},
			"posicionamento": "especialista regional"
		},
		"parte_3_como_chegar_la": {
			"okrs_propostos": [
				{"trimestre": "Q1", "objetivo": "Dobrar pipeline comercial"},
				{"trimestre": "Q2", "objetivo": "Lançar plano anual"},
				{"trimestre": "Q3", "objetivo": "Abrir segundo mercado"}
			]
		},
		"parte_4_o_que_fazer_agora": {
			"recomendacoes_prioritarias": [
				"Formalizar funil de vendas",
				"Contratar executivo comercial",
				"Padronizar proposta de valor"
			]
		}
	}`
)

// fakeStageCaller serves canned JSON per wire stage name and mirrors the
// real client's tracker bookkeeping.
type fakeStageCaller struct {
	replies map[string]string
	errs    map[string]error
	usage   llm.Usage
	costPer float64

	mu    sync.Mutex
	calls map[string]int
}

func newFakeStageCaller() *fakeStageCaller {
	return &fakeStageCaller{
		replies: map[string]string{
			"extraction":   extractionJSON,
			"gap_analysis": gapJSON,
			"strategy":     strategyJSON,
			"competitive":  competitiveJSON,
			"risk_scoring": riskJSON,
			"polish":       polishJSON,
		},
		errs:    map[string]error{},
		usage:   llm.Usage{PromptTokens: 900, CompletionTokens: 450},
		costPer: 0.01,
		calls:   map[string]int{},
	}
}

func (f *fakeStageCaller) CallStage(_ context.Context, req llm.StageRequest) (string, llm.Usage, string, error) {
	f.mu.Lock()
	f.calls[req.Stage]++
	f.mu.Unlock()

	if err := f.errs[req.Stage]; err != nil {
		return "", llm.Usage{}, "", err
	}
	reply, ok := f.replies[req.Stage]
	if !ok {
		return "", llm.Usage{}, "", errors.New("no scripted reply for " + req.Stage)
	}
	modelUsed := "deepseek/deepseek-chat-v3-0324"
	if req.Tracker != nil {
		req.Tracker.Add(cost.Entry{
			Stage:        req.Stage,
			Model:        modelUsed,
			InputTokens:  f.usage.PromptTokens,
			OutputTokens: f.usage.CompletionTokens,
			CostUSD:      f.costPer,
			Success:      true,
		})
	}
	return reply, f.usage, modelUsed, nil
}

func (f *fakeStageCaller) CallWithRetry(_ context.Context, req llm.CallRequest) (string, llm.Usage, error) {
	f.mu.Lock()
	f.calls[req.Stage]++
	f.mu.Unlock()
	if err := f.errs[req.Stage]; err != nil {
		return "", llm.Usage{}, err
	}
	return f.replies[req.Stage], f.usage, nil
}

func (f *fakeStageCaller) count(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *fakeStageCaller) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// fakeSource is a scriptable enrichment adapter.
type fakeSource struct {
	name   string
	tier   model.SourceTier
	fee    float64
	fields map[string]any
	err    error

	mu    sync.Mutex
	calls int
}

func (s *fakeSource) Name() string           { return s.name }
func (s *fakeSource) Tier() model.SourceTier { return s.tier }
func (s *fakeSource) Cost() float64          { return s.fee }

func (s *fakeSource) Enrich(_ context.Context, _ enrich.Request) (map[string]any, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.fields, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeResearcher answers every query with the same sourced finding.
type fakeResearcher struct {
	err error

	mu      sync.Mutex
	queries []string
}

func (f *fakeResearcher) Research(_ context.Context, query string) (*perplexity.ResearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &perplexity.ResearchResult{
		Content:   "Rodada seed de R$ 2 milhões em 2023.",
		Citations: []string{"https://example.com.br/noticia"},
		Usage:     perplexity.Usage{PromptTokens: 50, CompletionTokens: 120},
	}, nil
}

// richFields covers 17 of the 22 lexicon fields, enough for the full tier.
func richFields() map[string]any {
	return map[string]any{
		"company_name":   "TechStart",
		"legal_name":     "TechStart Tecnologia LTDA",
		"description":    "Plataforma SaaS para PMEs de serviços",
		"industry":       "Tecnologia",
		"employee_count": 12,
		"annual_revenue": 2400000,
		"founded_year":   2019,
		"city":           "Campinas",
		"state":          "SP",
		"country":        "BR",
		"phone":          "+55 19 3333-0000",
		"website_tech":   []any{"react", "golang"},
		"social_media":   map[string]any{"instagram": "@techstart"},
		"rating":         4.6,
		"reviews_count":  88,
		"linkedin_url":   "https://linkedin.com/company/techstart",
		"cnpj":           "11.222.333/0001-81",
	}
}

func testSubmission() model.Submission {
	return model.Submission{
		ID:         1,
		Company:    "TechStart",
		Industry:   "Tecnologia",
		WebsiteURL: "https://techstart.com.br",
		Challenge:  "Dobrar receita em 12 meses",
	}
}

// testEnv wires a pipeline against a real SQLite store, an in-memory hot
// tier, one fake source, and the scripted stage caller.
type testEnv struct {
	pipe       *Pipeline
	store      *session.SQLiteStore
	tiered     *cache.Tiered
	registry   *enrich.Registry
	caller     *fakeStageCaller
	source     *fakeSource
	researcher *fakeResearcher
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st, err := session.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	hot := cache.NewMemory(1000, 0)
	t.Cleanup(hot.Close)
	tiered := cache.NewTiered(hot, st, nil, cache.Config{})

	caller := newFakeStageCaller()
	source := &fakeSource{
		name:   "google_places",
		tier:   model.TierFree,
		fee:    0.017,
		fields: richFields(),
	}
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	registry := enrich.NewRegistry(breakers, source)

	researcher := &fakeResearcher{}
	runner := stage.NewRunner(caller, nil, stage.WithResearcher(researcher))

	pipe := New(st, tiered, registry, runner, opts...)
	return &testEnv{
		pipe:       pipe,
		store:      st,
		tiered:     tiered,
		registry:   registry,
		caller:     caller,
		source:     source,
		researcher: researcher,
	}
}

// latestRun fetches the single run the test created.
func (e *testEnv) latestRun(t *testing.T) *model.AnalysisRun {
	t.Helper()
	runs, err := e.store.ListRuns(context.Background(), session.RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return &runs[0]
}

package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/horizonte-ai/atlas/internal/model"
)

// Prompt assets. The wording is part of the product: bump promptsVersion
// whenever a template changes so cached stage outputs roll over instead of
// mixing generations.
const promptsVersion = "2025-08-18"

// PromptsVersion is embedded in stage cache keys.
func PromptsVersion() string { return promptsVersion }

const extractionSystemPrompt = `Você é um analista de inteligência de mercado especializado em pequenas e médias empresas brasileiras. Sua tarefa é consolidar dados brutos sobre uma empresa em um retrato factual e estruturado.

Regras:
- Responda APENAS com um objeto JSON válido, sem markdown e sem explicações
- Use null quando a informação não estiver disponível nos dados fornecidos
- Nunca invente fatos; o que não estiver nos dados é lacuna, não chute
- Liste em data_gaps tudo que seria importante saber sobre a empresa e não está nos dados
- Escreva em português brasileiro`

func extractionPrompt(sub model.Submission, external map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Consolide os dados desta empresa brasileira em um retrato estruturado.\n\n")
	fmt.Fprintf(&sb, "Empresa: %s\n", sub.Company)
	if sub.Industry != "" {
		fmt.Fprintf(&sb, "Setor informado: %s\n", sub.Industry)
	}
	if sub.WebsiteURL != "" {
		fmt.Fprintf(&sb, "Site: %s\n", sub.WebsiteURL)
	}
	if sub.Challenge != "" {
		fmt.Fprintf(&sb, "Desafio declarado pelo cliente: %s\n", SanitizeString(sub.Challenge))
	}

	if len(external) > 0 {
		blob, err := json.MarshalIndent(external, "", "  ")
		if err == nil {
			sb.WriteString("\nDados coletados de fontes externas (já reconciliados e com confiança atribuída):\n")
			sb.Write(blob)
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
Produza exatamente este formato:
{
  "company_facts": {"company_name": "...", "industry": "...", "employee_count": "...", "annual_revenue": "...", "founded_year": 0, "city": "...", "state": "...", "description": "...", "cnpj": "...", "website_tech": [], "social_media": {}},
  "competitors": ["concorrentes citados nos dados ou notoriamente conhecidos no segmento"],
  "market_intelligence": {"tamanho_e_dinamica": "...", "regulacao_relevante": "...", "barreiras_entrada": "..."},
  "industry_trends": ["tendências do setor relevantes para esta empresa"],
  "news_and_developments": ["fatos e movimentos recentes relevantes, se presentes nos dados"],
  "customer_intelligence": {"perfil_cliente": "...", "principais_dores": [], "canais_aquisicao": []},
  "data_gaps": ["informações importantes que faltam"]
}`)
	return sb.String()
}

const gapQuerySystemPrompt = `Você transforma lacunas de dados sobre uma empresa em consultas de pesquisa curtas e específicas, prontas para um mecanismo de busca em tempo real. Responda APENAS com um objeto JSON válido, em português brasileiro.`

func gapQueriesPrompt(sub model.Submission, gaps []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Empresa: %s", sub.Company)
	if sub.Industry != "" {
		fmt.Fprintf(&sb, " (setor: %s)", sub.Industry)
	}
	sb.WriteString("\n\nLacunas de dados identificadas:\n")
	for _, gap := range gaps {
		fmt.Fprintf(&sb, "- %s\n", gap)
	}
	fmt.Fprintf(&sb, `
Escolha as lacunas que uma pesquisa na web consegue preencher e formule no máximo %d consultas.

Formato:
{
  "queries": ["consulta pronta para busca, específica e em português"],
  "priority_gaps": ["todas as lacunas, da mais crítica para a menos crítica"]
}`, maxFollowUpQueries)
	return sb.String()
}

const strategySystemPrompt = `Você é um consultor estratégico sênior especializado em pequenas e médias empresas brasileiras, com domínio de PESTEL, 7 Forças de Porter, SWOT, Oceano Azul, TAM/SAM/SOM, Balanced Scorecard e OKRs.

Regras:
- Responda APENAS com um objeto JSON válido, sem markdown e sem explicações
- Escreva TODO o conteúdo em português brasileiro
- Todo número de mercado (valores em R$ ou percentuais) deve vir acompanhado de "(fonte: ...)" quando houver dado conhecido ou "(estimativa: ...)" quando for projeção sua
- Seja específico para o porte e a realidade da empresa analisada; evite generalidades de manual`

// sectionInstructions holds the JSON skeleton requested for each report
// section. Keys match the section identifiers.
var sectionInstructions = map[string]string{
	SectionPESTEL:          `"analise_pestel": {"politico": [], "economico": [], "social": [], "tecnologico": [], "ecologico": [], "legal": []} — fatores concretos, 2 a 4 por dimensão`,
	SectionPorter:          `"sete_forcas_porter": {"rivalidade": {}, "novos_entrantes": {}, "substitutos": {}, "poder_fornecedores": {}, "poder_clientes": {}, "complementadores": {}, "poder_regulador": {}} — cada força com "intensidade" (1 a 5) e "justificativa"`,
	SectionSWOT:            `"analise_swot": {"forcas": [], "fraquezas": [], "oportunidades": [], "ameacas": []} — 3 a 5 itens por quadrante, específicos da empresa`,
	SectionBlueOcean:       `"oceano_azul": {"eliminar": [], "reduzir": [], "elevar": [], "criar": []}`,
	SectionPositioning:     `"posicionamento_mercado": {"proposta_valor": "...", "segmento_alvo": "...", "diferenciais_defensaveis": [], "mensagem_central": "..."}`,
	SectionMarketSizing:    `"tam_sam_som": {"tam": "R$ ...", "sam": "R$ ...", "som": "R$ ...", "justificativa": "..."} — valores coerentes com o porte da empresa; se os dados não permitirem uma estimativa fundamentada, devolva {"status": "dados_insuficientes", "mensagem": "...", "o_que_fornecer": ["...", "...", "..."]}`,
	SectionScenarios:       `"cenarios": {"otimista": {"descricao": "...", "probabilidade": 0.0}, "realista": {"descricao": "...", "probabilidade": 0.0}, "pessimista": {"descricao": "...", "probabilidade": 0.0}} — as três probabilidades somam 1.0`,
	SectionBalancedScore:   `"balanced_scorecard": {"financeira": [], "clientes": [], "processos_internos": [], "aprendizado_crescimento": []} — objetivos com indicador e meta`,
	SectionOKRs:            `"okrs_propostos": [{"trimestre": "Q1", "objetivo": "...", "resultados_chave": ["...", "...", "..."]}] — no mínimo 3 OKRs`,
	SectionRoadmap:         `"roteiro_implementacao": [{"fase": "...", "duracao_semanas": 0, "entregas": [], "responsavel_sugerido": "..."}]`,
	SectionGrowthLoops:     `"growth_loops": [{"nome": "...", "gatilho": "...", "acao": "...", "resultado": "...", "realimentacao": "..."}]`,
	SectionRecommendations: `"recomendacoes_prioritarias": [{"recomendacao": "...", "porque_agora": "...", "primeiro_passo": "...", "prazo_dias": 0}] — entre 3 e 5 recomendações, da mais urgente para a menos urgente`,
	SectionDecisionMatrix:  `"matriz_decisao": {"criterios": [], "opcoes": [{"opcao": "...", "notas": {}, "total": 0}]} — opcional: inclua apenas se houver uma decisão real a comparar`,
	SectionIntegrationMap:  `"mapa_integracao": {"como_as_partes_se_conectam": "...", "dependencias": []}`,
	SectionCaseReferences:  `"casos_brasileiros": [{"empresa": "...", "licao": "..."}] — 2 a 3 casos de empresas brasileiras comparáveis`,
	SectionReviewCycle:     `"ciclo_revisao": {"frequencia": "...", "indicadores_acompanhar": [], "gatilhos_replanejamento": []}`,
}

// partTitles gives each report part its heading in the prompt.
var partTitles = map[string]string{
	Part1WhereWeAre:    "PARTE 1 — ONDE ESTAMOS (diagnóstico)",
	Part2WhereToGo:     "PARTE 2 — ONDE QUEREMOS IR (ambição e mercado)",
	Part3HowToGetThere: "PARTE 3 — COMO CHEGAR LÁ (plano)",
	Part4WhatToDoNow:   "PARTE 4 — O QUE FAZER AGORA (execução imediata)",
}

func strategyPrompt(sub model.Submission, extraction map[string]any, tier Tier) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Monte o plano estratégico da empresa %s", sub.Company)
	if sub.Industry != "" {
		fmt.Fprintf(&sb, ", do setor %s", sub.Industry)
	}
	sb.WriteString(".\n")
	if sub.Challenge != "" {
		fmt.Fprintf(&sb, "O plano deve atacar diretamente o desafio declarado: %s\n", SanitizeString(sub.Challenge))
	}

	if facts := withoutUsageStats(extraction); len(facts) > 0 {
		blob, err := json.MarshalIndent(facts, "", "  ")
		if err == nil {
			sb.WriteString("\nBase de inteligência consolidada sobre a empresa:\n")
			sb.Write(blob)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nEstruture a resposta como um único objeto JSON com exatamente estas quatro chaves de topo: ")
	sb.WriteString(strings.Join(ReportParts, ", "))
	sb.WriteString(".\n")

	for _, part := range ReportParts {
		sections := partSections(tier, part)
		if len(sections) == 0 {
			fmt.Fprintf(&sb, "\n%s\n\"%s\": {} — deixe vazio nesta análise.\n", partTitles[part], part)
			continue
		}
		fmt.Fprintf(&sb, "\n%s\nDentro de \"%s\", produza:\n", partTitles[part], part)
		for _, section := range sections {
			fmt.Fprintf(&sb, "- %s\n", sectionInstructions[section])
		}
	}

	if SectionEnabled(tier, SectionOKRs) {
		fmt.Fprintf(&sb, "\nProponha OKRs para %d trimestre(s), começando em Q1.\n", OKRQuarters(tier))
	}
	if tier == TierMinimal {
		sb.WriteString("\nOs dados disponíveis são escassos: mantenha cada seção breve e marque claramente o que é estimativa.\n")
	}
	return sb.String()
}

const competitiveSystemPrompt = `Você é um analista de inteligência competitiva focado no mercado brasileiro.

Regras:
- Responda APENAS com um objeto JSON válido, sem markdown
- TODO o texto deve estar em português brasileiro; não use frases em inglês fora de nomes próprios
- Analise no mínimo 5 concorrentes; se os dados citarem menos que isso, complete com os concorrentes mais prováveis do segmento no Brasil e marque cada um com "(estimativa: análise setorial)"`

func competitivePrompt(sub model.Submission, extraction map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mapeie o cenário competitivo da empresa %s", sub.Company)
	if sub.Industry != "" {
		fmt.Fprintf(&sb, " no setor %s", sub.Industry)
	}
	sb.WriteString(".\n")

	if facts := withoutUsageStats(extraction); len(facts) > 0 {
		blob, err := json.MarshalIndent(facts, "", "  ")
		if err == nil {
			sb.WriteString("\nBase de inteligência consolidada:\n")
			sb.Write(blob)
			sb.WriteString("\n")
		}
	}

	fmt.Fprintf(&sb, `
Formato:
{
  "analise_competitiva_detalhada": [{"nome": "...", "porte": "...", "posicionamento": "...", "swot": {"forcas": [], "fraquezas": [], "oportunidades": [], "ameacas": []}, "diferenciais": [], "nivel_ameaca": 1}],
  "matriz_posicionamento": {"eixo_x": "...", "eixo_y": "...", "posicoes": [{"empresa": "...", "x": 0.0, "y": 0.0}]},
  "gaps_competitivos": ["espaços que nenhum concorrente ocupa bem"],
  "ameacas_emergentes": ["movimentos recentes que podem mudar o jogo"],
  "oportunidades_diferenciacao": ["onde a empresa pode se destacar de forma defensável"]
}

"analise_competitiva_detalhada" deve ter no mínimo %d concorrentes; "nivel_ameaca" vai de 1 (baixa) a 5 (crítica).`, minCompetitors)
	return sb.String()
}

const riskSystemPrompt = `Você é um especialista em gestão de riscos e priorização estratégica para pequenas e médias empresas brasileiras.

Regras:
- Responda APENAS com um objeto JSON válido, sem markdown
- Escreva todo o conteúdo em português brasileiro
- "probability" é um número entre 0 e 1; "impact" e "effort" são inteiros entre 1 e 10`

// riskStrictLanguageSuffix reinforces the output language when the first
// reply tripped the English-giveaway guard.
const riskStrictLanguageSuffix = `

ATENÇÃO: a resposta anterior continha texto em inglês. Escreva ABSOLUTAMENTE TODO o conteúdo em português brasileiro. Nenhuma frase em inglês é aceitável; apenas nomes próprios podem permanecer no idioma original.`

func riskPrompt(sub model.Submission, strategy map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Avalie riscos e priorize as recomendações do plano estratégico da empresa %s.\n", sub.Company)

	if plan := withoutUsageStats(strategy); len(plan) > 0 {
		blob, err := json.MarshalIndent(plan, "", "  ")
		if err == nil {
			sb.WriteString("\nPlano estratégico produzido:\n")
			sb.Write(blob)
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
Formato:
{
  "risk_analysis": [{"risco": "...", "categoria": "...", "probability": 0.0, "impact": 1, "risk_score": 0.0, "severidade": "...", "mitigacao": "..."}],
  "recommendation_scoring": [{"recomendacao": "...", "effort": 1, "impact": 1, "efficiency_ratio": 0.0, "roi": {"investimento_estimado": "...", "retorno_esperado": "...", "horizonte_meses": 0}, "prioridade": "..."}],
  "priority_matrix": {"quick_wins": [], "strategic_investments": [], "fill_ins": [], "avoid": []},
  "critical_path": [{"mes": 1, "foco": "...", "entregas": []}]
}

Pontue cada recomendação do plano, cubra pelo menos 5 riscos e monte o caminho crítico mês a mês para os próximos 6 meses.`)
	return sb.String()
}

const polishSystemPrompt = `Você é um editor executivo. Reescreva o relatório estratégico com tom claro, direto e profissional, em português brasileiro.

Regras:
- NÃO altere números, valores em R$, percentuais, datas nem o conteúdo das recomendações
- NÃO adicione nem remova seções; preserve exatamente as mesmas chaves JSON
- Melhore apenas a redação: clareza, concisão e tom executivo
- Responda APENAS com o objeto JSON completo reescrito`

func polishPrompt(strategy map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Reescreva o relatório abaixo mantendo a estrutura JSON idêntica.\n\n")
	if plan := withoutUsageStats(strategy); len(plan) > 0 {
		blob, err := json.MarshalIndent(plan, "", "  ")
		if err == nil {
			sb.Write(blob)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// withoutUsageStats shallow-copies a stage output minus its bookkeeping so
// prompts never echo token counts back at the model.
func withoutUsageStats(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, v := range m {
		if key == "_usage_stats" {
			continue
		}
		out[key] = v
	}
	return out
}

package enrich

import (
	"context"
	"strconv"
	"strings"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/receitaws"
)

// ReceitaAdapter queries the Brazilian federal registry by CNPJ. Free but
// slow and hard rate limited upstream. It depends on a CNPJ hint, usually
// mined from the website footer by the enhanced metadata scraper.
type ReceitaAdapter struct {
	client receitaws.Client
}

// NewReceitaAdapter creates the registry adapter.
func NewReceitaAdapter(client receitaws.Client) *ReceitaAdapter {
	return &ReceitaAdapter{client: client}
}

func (a *ReceitaAdapter) Name() string           { return "receitaws" }
func (a *ReceitaAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *ReceitaAdapter) Cost() float64          { return 0 }

// Enrich looks up the hinted CNPJ.
func (a *ReceitaAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if req.CNPJ == "" {
		return nil, &NotFoundError{Service: "receitaws", Detail: "no cnpj hint available"}
	}

	comp, err := a.client.Lookup(ctx, req.CNPJ)
	if err != nil {
		return nil, err
	}
	if !comp.OK() {
		return nil, &NotFoundError{Service: "receitaws", Detail: comp.Message}
	}

	data := map[string]any{
		"cnpj":    digitsOnly(comp.CNPJ),
		"country": "Brasil",
	}
	if comp.Nome != "" {
		data["legal_name"] = comp.Nome
	}
	if comp.Fantasia != "" {
		data["company_name"] = comp.Fantasia
	}
	if comp.Situacao != "" {
		data["registration_status"] = comp.Situacao
	}
	if comp.Municipio != "" {
		data["city"] = comp.Municipio
	}
	if comp.UF != "" {
		data["state"] = comp.UF
	}
	if comp.Porte != "" {
		data["porte"] = comp.Porte
	}
	if comp.NaturezaJuridica != "" {
		data["natureza_juridica"] = comp.NaturezaJuridica
	}
	if len(comp.AtividadePrincipal) > 0 {
		data["cnae"] = comp.AtividadePrincipal[0].Code
		if comp.AtividadePrincipal[0].Text != "" {
			data["industry"] = comp.AtividadePrincipal[0].Text
		}
	}
	// Abertura comes as dd/mm/yyyy.
	if parts := strings.Split(comp.Abertura, "/"); len(parts) == 3 {
		if year, err := strconv.Atoi(parts[2]); err == nil {
			data["founded_year"] = year
		}
	}
	return data, nil
}

func digitsOnly(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

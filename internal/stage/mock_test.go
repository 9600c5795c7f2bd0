package stage

import (
	"context"
	"errors"

	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/perplexity"
)

type stageReply struct {
	text  string
	usage llm.Usage
	model string
	err   error
}

// fakeCaller scripts LLM replies in order and records every request the
// stages build, so tests can assert on prompts and chains.
type fakeCaller struct {
	stageReplies []stageReply
	callReplies  []stageReply

	stageReqs []llm.StageRequest
	callReqs  []llm.CallRequest
}

func (f *fakeCaller) CallStage(_ context.Context, req llm.StageRequest) (string, llm.Usage, string, error) {
	f.stageReqs = append(f.stageReqs, req)
	if len(f.stageReplies) == 0 {
		return "", llm.Usage{}, "", errors.New("no scripted stage reply")
	}
	r := f.stageReplies[0]
	f.stageReplies = f.stageReplies[1:]
	if r.err != nil {
		return "", r.usage, "", r.err
	}
	modelUsed := r.model
	if modelUsed == "" {
		modelUsed = "deepseek/deepseek-chat-v3-0324"
	}
	return r.text, r.usage, modelUsed, nil
}

func (f *fakeCaller) CallWithRetry(_ context.Context, req llm.CallRequest) (string, llm.Usage, error) {
	f.callReqs = append(f.callReqs, req)
	if len(f.callReplies) == 0 {
		return "", llm.Usage{}, errors.New("no scripted retry reply")
	}
	r := f.callReplies[0]
	f.callReplies = f.callReplies[1:]
	return r.text, r.usage, r.err
}

// fakeResearcher serves canned research results keyed by query.
type fakeResearcher struct {
	results map[string]*perplexity.ResearchResult
	err     error
	queries []string
}

func (f *fakeResearcher) Research(_ context.Context, query string) (*perplexity.ResearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[query]; ok {
		return res, nil
	}
	return nil, errors.New("unexpected research query: " + query)
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

// usageStats pulls the _usage_stats block out of a stage output.
func usageStats(out map[string]any) map[string]any {
	stats, _ := out["_usage_stats"].(map[string]any)
	return stats
}

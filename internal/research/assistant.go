package research

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/models"
	"deepresearch/internal/providers"

	"go.uber.org/zap"
)

const SkippedMessage = "Research skipped. You can ask another query."

// Snapshotter is satisfied by *stock.Lookup.
type Snapshotter interface {
	Snapshot(ctx context.Context, query string) (string, bool)
}

// ConfirmFunc is asked whether to run deep research for the proposed plan.
type ConfirmFunc func(ctx context.Context, plan string) (bool, error)

// Assistant drives one query through classify, plan, confirm, research and
// report using a language model.
type Assistant struct {
	llm   providers.LLMProvider
	orch  *Orchestrator
	stock Snapshotter
	index TextIndex
	log   *zap.Logger
}

func NewAssistant(llm providers.LLMProvider, orch *Orchestrator, stock Snapshotter, index TextIndex, log *zap.Logger) *Assistant {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assistant{llm: llm, orch: orch, stock: stock, index: index, log: log}
}

func (a *Assistant) generate(ctx context.Context, req providers.GenerateRequest) (string, error) {
	resp, info, err := a.llm.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Operation, err)
	}
	a.log.Debug("llm call", zap.String("operation", req.Operation), zap.String("provider", info.Name), zap.String("model", info.Model))
	return strings.TrimSpace(resp.Text), nil
}

func (a *Assistant) Classify(ctx context.Context, query string) (Classification, error) {
	raw, err := a.generate(ctx, ClassifyRequest(query))
	if err != nil {
		return Classification{}, err
	}
	return ParseClassification(raw), nil
}

func (a *Assistant) Plan(ctx context.Context, query string) (string, error) {
	return a.generate(ctx, PlanRequest(query))
}

func (a *Assistant) Report(ctx context.Context, query string, passages []string) (string, error) {
	return a.generate(ctx, ReportRequest(query, passages))
}

func (a *Assistant) GeneralReply(ctx context.Context, query string) (string, error) {
	return a.generate(ctx, GeneralRequest(query))
}

// ReportContext is the retrieved passages followed by the stock snapshot
// when one is available. The snapshot is also indexed under query.
func (a *Assistant) ReportContext(ctx context.Context, query string, passages []string) ([]string, error) {
	out := append([]string{}, passages...)
	if a.stock == nil {
		return out, nil
	}
	snap, ok := a.stock.Snapshot(ctx, query)
	if !ok || strings.TrimSpace(snap) == "" {
		return out, nil
	}
	out = append(out, snap)
	if a.index != nil {
		if err := a.index.AddTexts(ctx, []string{snap}, map[string]any{"query": query}); err != nil {
			return nil, fmt.Errorf("index stock snapshot: %w", err)
		}
	}
	return out, nil
}

// Outcome is the end state of Run. Response is the text shown to the user.
type Outcome struct {
	Status         string         `json:"status"`
	Classification Classification `json:"classification"`
	Plan           string         `json:"plan,omitempty"`
	Report         string         `json:"report,omitempty"`
	Response       string         `json:"response"`
	Findings       Findings       `json:"findings"`
}

// Run answers query end to end. Out-of-scope queries get a general reply;
// the rest get a plan, and research only runs when confirm agrees.
func (a *Assistant) Run(ctx context.Context, query string, confirm ConfirmFunc) (Outcome, error) {
	cls, err := a.Classify(ctx, query)
	if err != nil {
		return Outcome{Status: models.RunFailed}, err
	}
	out := Outcome{Classification: cls}
	if cls.OutOfScope() {
		reply, err := a.GeneralReply(ctx, query)
		if err != nil {
			out.Status = models.RunFailed
			return out, err
		}
		out.Status = models.RunAnswered
		out.Response = reply
		return out, nil
	}

	plan, err := a.Plan(ctx, query)
	if err != nil {
		out.Status = models.RunFailed
		return out, err
	}
	out.Plan = plan
	proceed, err := confirm(ctx, plan)
	if err != nil {
		out.Status = models.RunFailed
		return out, err
	}
	if !proceed {
		out.Status = models.RunDeclined
		out.Response = SkippedMessage
		return out, nil
	}

	findings, err := a.orch.DeepResearch(ctx, query)
	out.Findings = findings
	if err != nil {
		out.Status = models.RunFailed
		return out, err
	}
	reportCtx, err := a.ReportContext(ctx, query, findings.Passages)
	if err != nil {
		out.Status = models.RunFailed
		return out, err
	}
	if len(reportCtx) == 0 {
		out.Status = models.RunFailed
		out.Response = NoResultsMessage(query)
		return out, nil
	}
	report, err := a.Report(ctx, query, reportCtx)
	if err != nil {
		out.Status = models.RunFailed
		return out, err
	}
	out.Report = report
	out.Response = FormatResponse(plan, report, findings.URLs)
	out.Status = models.RunCompleted
	return out, nil
}

func PlanMessage(plan string) string {
	return fmt.Sprintf("Proposed research plan:\n\n%s\n\nProceed with deep research? (Yes / No)", plan)
}

func NoResultsMessage(query string) string {
	return fmt.Sprintf("No usable research material was found for %q. Try a broader query.", query)
}

// FormatResponse renders the final answer: plan, report and the source URLs.
func FormatResponse(plan, report string, urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Research Plan:**\n%s\n\n", plan)
	fmt.Fprintf(&b, "**Detailed Report:**\n%s\n\n", report)
	if len(urls) > 0 {
		b.WriteString("**Sources:**\n" + strings.Join(urls, "\n"))
	} else {
		b.WriteString("Sources: Web search and APIs")
	}
	return b.String()
}

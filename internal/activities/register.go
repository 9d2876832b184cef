package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.LLMGenerateActivity)
	w.RegisterActivity(a.GatherActivity)
	w.RegisterActivity(a.IndexResearchActivity)
	w.RegisterActivity(a.StockSnapshotActivity)
	w.RegisterActivity(a.IndexTextsActivity)
	w.RegisterActivity(a.RefreshQueryActivity)
	w.RegisterActivity(a.SaveRunActivity)
	w.RegisterActivity(a.LogLLMCallActivity)
}

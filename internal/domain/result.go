package domain

// AnalysisResult summarizes a completed analysis run.
type AnalysisResult struct {
	RunID           string    `json:"run_id"`
	Token           TokenInfo `json:"token"`
	HolderCount     int       `json:"holder_count"`
	NewTransactions int       `json:"new_transactions"`
	OutputDir       string    `json:"output_dir"`
}

// internal/models/progress.go
package models

// ProgressItem 进度视图中的一行
type ProgressItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
}

// ProgressPhase 一个阶段及其步骤
type ProgressPhase struct {
	Name      string         `json:"name"`
	Items     []ProgressItem `json:"items"`
	Completed bool           `json:"completed"`
}

// ProgressView 只读的进度投影
type ProgressView struct {
	Phases         []ProgressPhase `json:"phases"`
	CurrentStepID  string          `json:"currentStepId"`
	CompletedSteps int             `json:"completedSteps"`
	TotalSteps     int             `json:"totalSteps"`
	Percent        int             `json:"percent"`
	Finished       bool            `json:"finished"`
}

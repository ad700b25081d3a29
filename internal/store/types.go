package store

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepStatus is the lifecycle state of an individual step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Run is a persisted workflow run.
type Run struct {
	ID           string     `db:"id"`
	WorkflowName string     `db:"workflow_name"`
	Status       RunStatus  `db:"status"`
	Context      string     `db:"context"` // JSON blob
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// Step is a persisted step attempt within a run.
type Step struct {
	RunID        string     `db:"run_id"`
	StepID       string     `db:"step_id"`
	ParentStepID *string    `db:"parent_step_id"`
	Type         string     `db:"type"`
	Status       StepStatus `db:"status"`
	Attempt      int        `db:"attempt"`
	Result       *string    `db:"result"`
	ErrorKind    *string    `db:"error_kind"`
	ErrorMessage *string    `db:"error_message"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// AuditSeverity mirrors the teacher's security.AuditSeverity taxonomy.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "INFO"
	SeverityWarn     AuditSeverity = "WARN"
	SeverityCritical AuditSeverity = "CRITICAL"
)

// AuditEvent is a single append-only audit log entry.
type AuditEvent struct {
	ID        int64         `db:"id"`
	RunID     *string       `db:"run_id"`
	StepID    *string       `db:"step_id"`
	EventType string        `db:"event_type"`
	Severity  AuditSeverity `db:"severity"`
	Detail    string        `db:"detail"` // JSON blob
	CreatedAt time.Time     `db:"created_at"`
}

// AuditFilter narrows an audit Query.
type AuditFilter struct {
	RunID     string
	EventType string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// QuotaPeriod is the reset window for a provider quota.
type QuotaPeriod string

const (
	PeriodDay     QuotaPeriod = "day"
	PeriodMonth   QuotaPeriod = "month"
	PeriodAllTime QuotaPeriod = "all_time"
)

// ProviderQuotaConfig is the configured ceiling for one provider.
type ProviderQuotaConfig struct {
	Provider    string      `db:"provider"`
	Period      QuotaPeriod `db:"period"`
	MaxRequests *int64      `db:"max_requests"`
	MaxTokens   *int64      `db:"max_tokens"`
	WarningPct  float64     `db:"warning_pct"`
	CriticalPct float64     `db:"critical_pct"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

// APIUsageRecord is one recorded unit of provider consumption.
type APIUsageRecord struct {
	ID         int64     `db:"id"`
	Provider   string    `db:"provider"`
	Model      string    `db:"model"`
	SessionID  string    `db:"session_id"`
	Tokens     int64     `db:"tokens"`
	Requests   int64     `db:"requests"`
	RecordedAt time.Time `db:"recorded_at"`
}

// SessionBudget is the per-(session,model) token budget ledger.
type SessionBudget struct {
	SessionID   string    `db:"session_id"`
	Model       string    `db:"model"`
	MaxTokens   int64     `db:"max_tokens"`
	SpentTokens int64     `db:"spent_tokens"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// RouterModelProfile is the router's live-tuned view of one model.
type RouterModelProfile struct {
	Model           string    `db:"model"`
	Provider        string    `db:"provider"`
	Tier            string    `db:"tier"`
	SuccessRate     float64   `db:"success_rate"`
	ObservedCalls   int64     `db:"observed_calls"`
	AvgLatencyMs    float64   `db:"avg_latency_ms"`
	CostPer1KTokens float64   `db:"cost_per_1k_tokens"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// SkillStatus tracks the lifecycle state of a Skill Bank entry.
type SkillStatus string

const (
	SkillActive     SkillStatus = "active"
	SkillChallenger SkillStatus = "challenger"
	SkillTrial      SkillStatus = "trial"
	SkillDeprecated SkillStatus = "deprecated"
)

// SkillBankEntry is one Skill Bank entry: a general skill (TaskType == "")
// or a task-specific one, EWMA-tuned by the Evolution Engine.
type SkillBankEntry struct {
	ID           int64       `db:"id"`
	TaskType     string      `db:"task_type"`
	Name         string      `db:"name"`
	Principle    string      `db:"principle"`
	Status       SkillStatus `db:"status"`
	SuccessRate  float64     `db:"success_rate"`
	UsageCount   int64       `db:"usage_count"`
	AvgQuality   float64     `db:"avg_quality"`
	AvgCostUSD   float64     `db:"avg_cost_usd"`
	AvgLatencyMs float64     `db:"avg_latency_ms"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

// RoutingDecision is a persisted record of one model-selection decision.
type RoutingDecision struct {
	ID              int64     `db:"id"`
	SessionID       string    `db:"session_id"`
	RequestedModel  *string   `db:"requested_model"`
	SelectedModel   string    `db:"selected_model"`
	FallbackApplied bool      `db:"fallback_applied"`
	Score           float64   `db:"score"`
	Reason          string    `db:"reason"`
	CreatedAt       time.Time `db:"created_at"`
}

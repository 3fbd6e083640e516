package types

import "time"

// NodeKind is a tagged variant, not an inheritance hierarchy: the three
// kinds do not share enough behavior to be expressed any other way.
type NodeKind string

const (
	NodeSingle   NodeKind = "single"
	NodeParallel NodeKind = "parallel"
	NodeSwarm    NodeKind = "swarm"
)

// StartSentinel and EndSentinel mark the DAG's synthetic entry/exit nodes.
const (
	StartSentinel = "__start__"
	EndSentinel   = "__end__"
)

// NodeConfig carries kind-specific tuning knobs.
type NodeConfig struct {
	RetryBudget   int      `json:"retry_budget,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty"`
	Roles         []Role   `json:"roles,omitempty"`
	BestEffort    bool     `json:"best_effort,omitempty"`
	ToleratesFail bool     `json:"tolerates_failure,omitempty"`
}

// Role describes one participant in a swarm node.
type Role struct {
	Name      string   `json:"name"`
	AgentType string   `json:"agent_type"`
	Interests []string `json:"interests,omitempty"`
}

// NodeDef is one entry in a workflow definition's node list.
type NodeDef struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Kind           NodeKind   `json:"kind"`
	PromptTemplate string     `json:"prompt_template"`
	Config         NodeConfig `json:"config,omitempty"`
}

// EdgeDef connects two nodes; from/to may be sentinels. Condition is a
// side-effect-free boolean expression string (see internal/conductor/cond).
type EdgeDef struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
	Priority  int    `json:"priority"`
}

// Workflow is a versioned, named DAG definition.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []NodeDef `json:"nodes"`
	Edges       []EdgeDef `json:"edges"`
}

// RunStatus is the workflow run lifecycle enum.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one execution of a Workflow.
type Run struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id,omitempty"`
	TenantID       string          `json:"tenant_id"`
	Status         RunStatus       `json:"status"`
	Phase          string          `json:"phase,omitempty"`
	Input          map[string]any  `json:"input,omitempty"`
	Output         map[string]any  `json:"output,omitempty"`
	Context        map[string]any  `json:"context"`
	TotalNodes     int             `json:"total_nodes"`
	CompletedNodes int             `json:"completed_nodes"`
	FailedNodes    int             `json:"failed_nodes"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// NodeExecStatus is the node_execution lifecycle enum.
type NodeExecStatus string

const (
	NodeExecPending   NodeExecStatus = "pending"
	NodeExecRunning   NodeExecStatus = "running"
	NodeExecCompleted NodeExecStatus = "completed"
	NodeExecFailed    NodeExecStatus = "failed"
	NodeExecSkipped   NodeExecStatus = "skipped"
)

// Finding is a structured observation extracted from an agent's output,
// or authored directly onto a blackboard.
type Finding struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Kind       string    `json:"kind"` // discovery|warning|decision|blocker|fact|hypothesis|question
	Content    string    `json:"content"`
	Files      []string  `json:"files,omitempty"`
	Importance string    `json:"importance,omitempty"` // low|medium|high|critical
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NodeExecution is one firing of one node in one run.
type NodeExecution struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	NodeID      string         `json:"node_id"`
	NodeKind    NodeKind       `json:"node_kind"`
	AgentID     string         `json:"agent_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Prompt      string         `json:"prompt"`
	PromptHash  string         `json:"prompt_hash"`
	Status      NodeExecStatus `json:"status"`
	ResultJSON  map[string]any `json:"result_json,omitempty"`
	ResultText  string         `json:"result_text,omitempty"`
	Findings    []Finding      `json:"findings,omitempty"`
	FilesModified []string     `json:"files_modified,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	TokenCount  int64          `json:"token_count,omitempty"`
	RetryCount  int            `json:"retry_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DecisionKind enumerates the conductor's append-only audit event kinds.
type DecisionKind string

const (
	DecisionFireNode    DecisionKind = "fire_node"
	DecisionSkipNode    DecisionKind = "skip_node"
	DecisionRetry       DecisionKind = "retry"
	DecisionAbort       DecisionKind = "abort"
	DecisionPhaseChange DecisionKind = "phase_change"
)

// Decision is one append-only conductor audit record.
type Decision struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Kind      DecisionKind   `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

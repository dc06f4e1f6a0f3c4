// Package store is the relational store over the svapna schema: sessions
// and their turns, the three pattern-record kinds (samskara, vasana, vidhi),
// the consolidation audit log, the nidra singleton, and the knowledge-graph
// substore. All reads are indexed by project and/or time; all writes are
// single short statements or short transactions.
package store

import (
	"encoding/json"
	"time"
)

// Session is one recorded agent session.
type Session struct {
	ID          string    `db:"id"`
	Project     string    `db:"project"`
	TotalTokens int64     `db:"total_tokens"`
	TotalCost   float64   `db:"total_cost"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ToolCall is one tool invocation recorded inside a turn.
type ToolCall struct {
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args,omitempty"`
	Errored bool            `json:"errored,omitempty"`
	Output  string          `json:"output,omitempty"`
}

// Turn is one conversational step within a session.
type Turn struct {
	ID            string    `db:"id"`
	SessionID     string    `db:"session_id"`
	Seq           int       `db:"seq"`
	Role          string    `db:"role"`
	Content       string    `db:"content"`
	ToolCallsJSON []byte    `db:"tool_calls_json"`
	ToolErrored   bool      `db:"tool_errored"`
	CreatedAt     time.Time `db:"created_at"`
}

// ToolCalls decodes the turn's recorded tool invocations. An absent column
// yields an empty slice, not an error.
func (t *Turn) ToolCalls() ([]ToolCall, error) {
	if len(t.ToolCallsJSON) == 0 {
		return nil, nil
	}
	var calls []ToolCall
	if err := json.Unmarshal(t.ToolCallsJSON, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// SetToolCalls encodes calls onto the turn.
func (t *Turn) SetToolCalls(calls []ToolCall) error {
	b, err := json.Marshal(calls)
	if err != nil {
		return err
	}
	t.ToolCallsJSON = b
	return nil
}

// Samskara is a raw observed pattern. A nil Project scopes it globally.
type Samskara struct {
	ID               string    `db:"id"`
	Project          *string   `db:"project"`
	PatternType      string    `db:"pattern_type"`
	PatternContent   string    `db:"pattern_content"`
	ObservationCount int       `db:"observation_count"`
	Confidence       float64   `db:"confidence"`
	SessionID        *string   `db:"session_id"`
	CreatedAt        time.Time `db:"created_at"`
}

// Valence marks a vasana's behavioral polarity.
type Valence string

// Valence values.
const (
	ValencePositive Valence = "positive"
	ValenceNegative Valence = "negative"
	ValenceNeutral  Valence = "neutral"
)

// Vasana is a crystallized behavioral tendency aggregated from samskaras
// across sessions.
type Vasana struct {
	ID                   string     `db:"id"`
	Project              *string    `db:"project"`
	Name                 string     `db:"name"`
	Description          string     `db:"description"`
	Valence              Valence    `db:"valence"`
	Strength             float64    `db:"strength"`
	Stability            float64    `db:"stability"`
	SourceSamskaraIDsRaw []byte     `db:"source_samskara_ids_json"`
	ActivationCount      int        `db:"activation_count"`
	LastActivatedAt      *time.Time `db:"last_activated_at"`
	CreatedAt            time.Time  `db:"created_at"`
}

// SourceSamskaraIDs decodes the originating samskara id set.
func (v *Vasana) SourceSamskaraIDs() []string {
	var ids []string
	if len(v.SourceSamskaraIDsRaw) > 0 {
		_ = json.Unmarshal(v.SourceSamskaraIDsRaw, &ids)
	}
	return ids
}

// SetSourceSamskaraIDs encodes ids onto the vasana.
func (v *Vasana) SetSourceSamskaraIDs(ids []string) {
	b, _ := json.Marshal(ids)
	v.SourceSamskaraIDsRaw = b
}

// VidhiStep is one ordered step of a procedure: a tool name plus an
// argument template whose variable slots use ${...} placeholders.
type VidhiStep struct {
	Index        int            `json:"index"`
	Tool         string         `json:"tool"`
	ArgsTemplate map[string]any `json:"args_template"`
	Critical     bool           `json:"critical"`
}

// ParamSpec describes one placeholder in a vidhi's parameter schema.
type ParamSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Examples []any  `json:"examples,omitempty"`
}

// Vidhi is a parameterized procedure mined from repeated session traces.
type Vidhi struct {
	ID                  string    `db:"id"`
	Project             string    `db:"project"`
	Name                string    `db:"name"`
	StepsRaw            []byte    `db:"steps_json"`
	ParameterSchemaRaw  []byte    `db:"parameter_schema_json"`
	TriggerPhrasesRaw   []byte    `db:"trigger_phrases_json"`
	Confidence          float64   `db:"confidence"`
	SuccessCount        int       `db:"success_count"`
	FailureCount        int       `db:"failure_count"`
	SourceSessionIDsRaw []byte    `db:"source_session_ids_json"`
	CreatedAt           time.Time `db:"created_at"`
}

// SuccessRate is successes over total runs, 0 when the vidhi never ran.
func (v *Vidhi) SuccessRate() float64 {
	total := v.SuccessCount + v.FailureCount
	if total == 0 {
		return 0
	}
	return float64(v.SuccessCount) / float64(total)
}

// Steps decodes the ordered step list.
func (v *Vidhi) Steps() []VidhiStep {
	var steps []VidhiStep
	if len(v.StepsRaw) > 0 {
		_ = json.Unmarshal(v.StepsRaw, &steps)
	}
	return steps
}

// SetSteps encodes steps onto the vidhi.
func (v *Vidhi) SetSteps(steps []VidhiStep) error {
	b, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	v.StepsRaw = b
	return nil
}

// ParameterSchema decodes the placeholder schema.
func (v *Vidhi) ParameterSchema() map[string]ParamSpec {
	schema := map[string]ParamSpec{}
	if len(v.ParameterSchemaRaw) > 0 {
		_ = json.Unmarshal(v.ParameterSchemaRaw, &schema)
	}
	return schema
}

// SetParameterSchema encodes schema onto the vidhi.
func (v *Vidhi) SetParameterSchema(schema map[string]ParamSpec) error {
	b, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	v.ParameterSchemaRaw = b
	return nil
}

// TriggerPhrases decodes the trigger phrase list.
func (v *Vidhi) TriggerPhrases() []string {
	var phrases []string
	if len(v.TriggerPhrasesRaw) > 0 {
		_ = json.Unmarshal(v.TriggerPhrasesRaw, &phrases)
	}
	return phrases
}

// SetTriggerPhrases encodes phrases onto the vidhi.
func (v *Vidhi) SetTriggerPhrases(phrases []string) {
	b, _ := json.Marshal(phrases)
	v.TriggerPhrasesRaw = b
}

// SourceSessionIDs decodes the contributing session id set.
func (v *Vidhi) SourceSessionIDs() []string {
	var ids []string
	if len(v.SourceSessionIDsRaw) > 0 {
		_ = json.Unmarshal(v.SourceSessionIDsRaw, &ids)
	}
	return ids
}

// SetSourceSessionIDs encodes ids onto the vidhi.
func (v *Vidhi) SetSourceSessionIDs(ids []string) {
	b, _ := json.Marshal(ids)
	v.SourceSessionIDsRaw = b
}

// Consolidation cycle types.
const (
	CycleSvapna  = "svapna"
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

// Consolidation log statuses.
const (
	LogStatusRunning = "running"
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
)

// ConsolidationLogRow is one audit entry for a consolidation or report
// cycle. Phase is nil for whole-cycle rows.
type ConsolidationLogRow struct {
	ID                 string    `db:"id"`
	Project            string    `db:"project"`
	CycleType          string    `db:"cycle_type"`
	CycleID            string    `db:"cycle_id"`
	Phase              *string   `db:"phase"`
	PhaseDurationMs    int64     `db:"phase_duration_ms"`
	VasanasCreated     int       `db:"vasanas_created"`
	VidhisCreated      int       `db:"vidhis_created"`
	SamskarasProcessed int       `db:"samskaras_processed"`
	SessionsProcessed  int       `db:"sessions_processed"`
	Status             string    `db:"status"`
	CreatedAt          time.Time `db:"created_at"`
}

// NidraState is the singleton row tracking the consolidation daemon's
// current phase and progress.
type NidraState struct {
	ID                    int16     `db:"id"`
	ConsolidationPhase    string    `db:"consolidation_phase"`
	ConsolidationProgress float64   `db:"consolidation_progress"`
	UpdatedAt             time.Time `db:"updated_at"`
}

// Node is one knowledge-graph vertex.
type Node struct {
	ID            string    `db:"id"`
	Project       string    `db:"project"`
	Kind          string    `db:"kind"`
	Label         string    `db:"label"`
	PropertiesRaw []byte    `db:"properties_json"`
	CreatedAt     time.Time `db:"created_at"`
}

// Edge is one knowledge-graph relation.
type Edge struct {
	ID            string    `db:"id"`
	Project       string    `db:"project"`
	FromNodeID    string    `db:"from_node_id"`
	ToNodeID      string    `db:"to_node_id"`
	Kind          string    `db:"kind"`
	PropertiesRaw []byte    `db:"properties_json"`
	CreatedAt     time.Time `db:"created_at"`
}

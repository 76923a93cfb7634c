package schema

import "encoding/json"

// Flow is the stored, versioned workflow definition: an ordered chain of
// typed nodes linked via next_node_id. Owned by the Execution Store; the
// engine only reads it.
type Flow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Nodes        []FlowNode      `json:"nodes"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	IsActive     bool            `json:"is_active"`
	Version      int             `json:"version"`
	Category     string          `json:"category,omitempty"`
}

// NodeType enumerates the kinds of nodes in a flow chain.
type NodeType string

const (
	NodeTypeInput  NodeType = "input"
	NodeTypeAgent  NodeType = "agent"
	NodeTypeOutput NodeType = "output"
)

// FlowNode is the tagged variant for one step in a flow. Exactly one of
// Input, Agent, or Output is set, matching Type. Position is UI-only and
// ignored by the engine. An empty NextNodeID marks a terminal node.
type FlowNode struct {
	NodeID     string    `json:"node_id"`
	Name       string    `json:"name"`
	Type       NodeType  `json:"type"`
	Position   *Position `json:"position,omitempty"`
	NextNodeID string    `json:"next_node_id,omitempty"`

	Input  *InputNodeConfig  `json:"input,omitempty"`
	Agent  *AgentNodeConfig  `json:"agent,omitempty"`
	Output *OutputNodeConfig `json:"output,omitempty"`
}

// Terminal reports whether this node ends the chain.
func (n *FlowNode) Terminal() bool { return n.NextNodeID == "" }

// Position is the node's placement on the visual canvas. Not used at runtime.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InputNodeConfig declares the fields an input node collects and validates.
type InputNodeConfig struct {
	Fields []InputField `json:"fields"`
}

// FieldType enumerates the supported input field types.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeNumber      FieldType = "number"
	FieldTypeURL         FieldType = "url"
	FieldTypeEmail       FieldType = "email"
	FieldTypeFile        FieldType = "file"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiselect FieldType = "multiselect"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeDate        FieldType = "date"
	FieldTypeDatetime    FieldType = "datetime"
)

// InputField describes one field of an input node. Min/Max constrain length
// for text-like types and value for number fields.
type InputField struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Required     bool      `json:"required,omitempty"`
	Pattern      string    `json:"pattern,omitempty"`
	Min          *float64  `json:"min,omitempty"`
	Max          *float64  `json:"max,omitempty"`
	DefaultValue any       `json:"default_value,omitempty"`
	Options      []string  `json:"options,omitempty"`
}

// AgentNodeConfig configures a language-model agent invocation.
type AgentNodeConfig struct {
	AgentID        string   `json:"agent_id"`
	PromptTemplate string   `json:"prompt_template"`
	Skills         []string `json:"skills,omitempty"`
	ModelOverride  string   `json:"model_override,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	TimeoutMs      int      `json:"timeout_ms,omitempty"`
	RetryOnError   bool     `json:"retry_on_error,omitempty"`
	MaxRetries     int      `json:"max_retries,omitempty"`
}

// OutputType enumerates output node destinations.
type OutputType string

const (
	OutputTypeResponse OutputType = "response"
	OutputTypeFile     OutputType = "file"
	OutputTypeDatabase OutputType = "database"
	OutputTypeWebhook  OutputType = "webhook"
	OutputTypeEmail    OutputType = "email"
)

// OutputFormat enumerates the serialization formats an output node produces.
type OutputFormat string

const (
	FormatJSON     OutputFormat = "json"
	FormatMarkdown OutputFormat = "markdown"
	FormatText     OutputFormat = "text"
	FormatHTML     OutputFormat = "html"
	FormatCSV      OutputFormat = "csv"
	FormatZip      OutputFormat = "zip"
)

// OutputNodeConfig configures the terminal rendering of accumulated data.
// TransformTemplate selects/reshapes the data before formatting: a "jq:"
// prefix runs a jq program, "expr:" an expr expression, and anything else
// is rendered as an interpolation template.
type OutputNodeConfig struct {
	OutputType        OutputType        `json:"output_type"`
	Format            OutputFormat      `json:"format,omitempty"`
	SaveToFile        bool              `json:"save_to_file,omitempty"`
	FilePath          string            `json:"file_path,omitempty"`
	FileName          string            `json:"file_name,omitempty"`
	IncludeMetadata   bool              `json:"include_metadata,omitempty"`
	IncludeTimestamp  bool              `json:"include_timestamp,omitempty"`
	TransformTemplate string            `json:"transform_template,omitempty"`
	WebhookURL        string            `json:"webhook_url,omitempty"`
	WebhookHeaders    map[string]string `json:"webhook_headers,omitempty"`
}

// TriggerSource identifies what started an execution.
type TriggerSource string

const (
	TriggerManual   TriggerSource = "manual"
	TriggerSchedule TriggerSource = "schedule"
	TriggerWebhook  TriggerSource = "webhook"
	TriggerAPI      TriggerSource = "api"
)

package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/flowline-dev/flowline/internal/expressions"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// OutputHandler is the handler for output nodes. It formats the accumulated
// data (or the subset named by the transform template), optionally wraps it
// with metadata, and performs the file/webhook side effects best-effort with
// no engine-level retry.
type OutputHandler struct {
	transformer *expressions.Transformer
	interp      *expressions.Interpolator
	client      *http.Client
}

// NewOutputHandler creates an OutputHandler. client may be nil.
func NewOutputHandler(transformer *expressions.Transformer, interp *expressions.Interpolator, client *http.Client) *OutputHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OutputHandler{transformer: transformer, interp: interp, client: client}
}

func (h *OutputHandler) Execute(ctx context.Context, ec *ExecutionContext, node *schema.FlowNode) (*NodeResult, error) {
	cfg := node.Output
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "output node missing output config").WithNode(node.NodeID)
	}

	payload, err := h.selectPayload(ctx, ec, cfg)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeOutput, "transform output: %v", err).
			WithNode(node.NodeID).WithCause(err)
	}

	// Metadata wrapping never mutates the underlying data.
	if cfg.IncludeMetadata || cfg.IncludeTimestamp {
		wrapped := map[string]any{"data": payload}
		if cfg.IncludeMetadata {
			wrapped["metadata"] = map[string]any{
				"execution_id": ec.ExecutionID,
				"flow_id":      ec.FlowID,
			}
		}
		if cfg.IncludeTimestamp {
			wrapped["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}
		payload = wrapped
	}

	formatted, err := formatPayload(payload, cfg.Format)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeOutput, "format output as %s: %v", cfg.Format, err).
			WithNode(node.NodeID).WithCause(err)
	}

	if cfg.SaveToFile {
		if err := h.saveToFile(ec, cfg, formatted); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeOutput, "save output file: %v", err).
				WithNode(node.NodeID).WithCause(err)
		}
	}

	if cfg.OutputType == schema.OutputTypeWebhook {
		if err := h.postWebhook(ctx, cfg, formatted); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeOutput, "webhook delivery: %v", err).
				WithNode(node.NodeID).WithCause(err)
		}
	}

	return &NodeResult{
		Data:     map[string]any{"output": string(formatted)},
		Attempts: 1,
	}, nil
}

// selectPayload picks what gets formatted: the transform template's result
// when set, otherwise the last completed node's data.
func (h *OutputHandler) selectPayload(ctx context.Context, ec *ExecutionContext, cfg *schema.OutputNodeConfig) (any, error) {
	if cfg.TransformTemplate != "" {
		return h.transformer.Apply(ctx, cfg.TransformTemplate, ec.Data(), ec.Input)
	}
	if last := ec.LastNodeData(); last != nil {
		return last, nil
	}
	return ec.Data(), nil
}

// formatPayload renders the payload into the configured output format.
func formatPayload(payload any, format schema.OutputFormat) ([]byte, error) {
	switch format {
	case schema.FormatJSON:
		return json.MarshalIndent(payload, "", "  ")
	case schema.FormatText, schema.FormatMarkdown, schema.FormatHTML, "":
		return []byte(payloadText(payload)), nil
	case schema.FormatCSV:
		return formatCSV(payload)
	case schema.FormatZip:
		return formatZip(payload)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// payloadText renders a payload as plain text. A map holding a single
// "output" string (the agent handler convention) unwraps to that string.
func payloadText(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		if out, ok := v["output"].(string); ok && len(v) == 1 {
			return out
		}
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}

// formatCSV renders a slice of flat maps as CSV with a sorted header row.
// Scalar payloads become a single-cell document.
func formatCSV(payload any) ([]byte, error) {
	rows, ok := payload.([]any)
	if !ok {
		if m, isMap := payload.(map[string]any); isMap {
			rows = []any{m}
		} else {
			return []byte(payloadText(payload)), nil
		}
	}

	headerSet := map[string]bool{}
	var records []map[string]any
	for _, r := range rows {
		m, isMap := r.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("csv output requires object rows, got %T", r)
		}
		for k := range m {
			headerSet[k] = true
		}
		records = append(records, m)
	}

	headers := make([]string, 0, len(headerSet))
	for k := range headerSet {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := make([]string, len(headers))
		for i, hKey := range headers {
			if val, present := rec[hKey]; present && val != nil {
				row[i] = payloadText(val)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// formatZip wraps the JSON-encoded payload in a single-entry zip archive.
func formatZip(payload any) ([]byte, error) {
	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("output.json")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// saveToFile writes the formatted output to the templated path.
func (h *OutputHandler) saveToFile(ec *ExecutionContext, cfg *schema.OutputNodeConfig, content []byte) error {
	dir := h.interp.Render(cfg.FilePath, ec.Data(), ec.Input)
	name := h.interp.Render(cfg.FileName, ec.Data(), ec.Input)
	if name == "" {
		name = ec.ExecutionID + "." + fileExt(cfg.Format)
	}
	path := name
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path = filepath.Join(dir, name)
	}
	return os.WriteFile(path, content, 0o644)
}

func fileExt(format schema.OutputFormat) string {
	switch format {
	case schema.FormatJSON:
		return "json"
	case schema.FormatMarkdown:
		return "md"
	case schema.FormatHTML:
		return "html"
	case schema.FormatCSV:
		return "csv"
	case schema.FormatZip:
		return "zip"
	default:
		return "txt"
	}
}

// postWebhook performs a single best-effort POST. No retry.
func (h *OutputHandler) postWebhook(ctx context.Context, cfg *schema.OutputNodeConfig, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", webhookContentType(cfg.Format))
	for k, v := range cfg.WebhookHeaders {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func webhookContentType(format schema.OutputFormat) string {
	switch format {
	case schema.FormatJSON, "":
		return "application/json"
	case schema.FormatHTML:
		return "text/html"
	case schema.FormatCSV:
		return "text/csv"
	case schema.FormatZip:
		return "application/zip"
	default:
		return "text/plain"
	}
}

package validation

import (
	"fmt"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// validateChain checks the node graph is a single fully-connected chain:
// node ids unique, every non-empty next_node_id references an existing node,
// walking from the first node visits every node exactly once, and the first
// node is an input node. Flows are linked lists, not general DAGs, so a
// visited-set walk is all the cycle detection needed.
func validateChain(flow *schema.Flow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(flow.Nodes) == 0 {
		result.AddError("flow has no nodes")
		return result
	}

	nodes := make(map[string]*schema.FlowNode, len(flow.Nodes))
	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		if node.NodeID == "" {
			result.AddError(fmt.Sprintf("node at index %d has empty node_id", i))
			continue
		}
		if _, exists := nodes[node.NodeID]; exists {
			result.AddNodeError(node.NodeID, "duplicate node_id")
			continue
		}
		nodes[node.NodeID] = node
	}
	if !result.Valid() {
		return result
	}

	for _, node := range flow.Nodes {
		if node.NextNodeID == "" {
			continue
		}
		if node.NextNodeID == node.NodeID {
			result.AddNodeError(node.NodeID, "node links to itself")
			continue
		}
		if _, exists := nodes[node.NextNodeID]; !exists {
			result.AddNodeError(node.NodeID,
				fmt.Sprintf("next_node_id references unknown node %q", node.NextNodeID))
		}
	}
	if !result.Valid() {
		return result
	}

	first := &flow.Nodes[0]
	if first.Type != schema.NodeTypeInput {
		result.AddNodeError(first.NodeID,
			fmt.Sprintf("first node must be an input node, got %q", first.Type))
	}

	// Walk the chain from the first node; every node must be reached
	// exactly once before a terminal node ends the walk.
	visited := make(map[string]bool, len(nodes))
	current := first
	for {
		if visited[current.NodeID] {
			result.AddNodeError(current.NodeID, "cycle detected in node chain")
			return result
		}
		visited[current.NodeID] = true

		if current.Terminal() {
			break
		}
		current = nodes[current.NextNodeID]
	}

	for _, node := range flow.Nodes {
		if !visited[node.NodeID] {
			result.AddNodeError(node.NodeID, "node is not reachable from the first node")
		}
	}

	return result
}

// validateNodeConfigs checks type-specific constraints on each node.
func validateNodeConfigs(flow *schema.Flow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		switch node.Type {
		case schema.NodeTypeInput:
			if node.Input == nil {
				result.AddNodeError(node.NodeID, "input node missing input config")
				continue
			}
			seen := make(map[string]bool, len(node.Input.Fields))
			for _, f := range node.Input.Fields {
				if f.Name == "" {
					result.AddNodeError(node.NodeID, "input field with empty name")
					continue
				}
				if seen[f.Name] {
					result.AddNodeError(node.NodeID,
						fmt.Sprintf("duplicate input field %q", f.Name))
				}
				seen[f.Name] = true
				if (f.Type == schema.FieldTypeSelect || f.Type == schema.FieldTypeMultiselect) && len(f.Options) == 0 {
					result.AddNodeError(node.NodeID,
						fmt.Sprintf("field %q of type %s requires options", f.Name, f.Type))
				}
			}
		case schema.NodeTypeAgent:
			if node.Agent == nil {
				result.AddNodeError(node.NodeID, "agent node missing agent config")
				continue
			}
			if node.Agent.AgentID == "" {
				result.AddNodeError(node.NodeID, "agent node missing agent_id")
			}
			if node.Agent.PromptTemplate == "" {
				result.AddNodeError(node.NodeID, "agent node missing prompt_template")
			}
			if node.Agent.MaxRetries < 0 {
				result.AddNodeError(node.NodeID, "max_retries must not be negative")
			}
		case schema.NodeTypeOutput:
			if node.Output == nil {
				result.AddNodeError(node.NodeID, "output node missing output config")
				continue
			}
			if node.Output.OutputType == schema.OutputTypeWebhook && node.Output.WebhookURL == "" {
				result.AddNodeError(node.NodeID, "webhook output requires webhook_url")
			}
			if !node.Terminal() {
				result.AddNodeError(node.NodeID, "output node must be terminal")
			}
		default:
			result.AddNodeError(node.NodeID, fmt.Sprintf("unknown node type %q", node.Type))
		}
	}

	return result
}

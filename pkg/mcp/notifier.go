package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/flowline-dev/flowline/internal/streaming"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// ExecutionNotifier pushes execution updates to the MCP session that started
// the execution.
type ExecutionNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewExecutionNotifier creates a notifier that pushes via MCP notifications.
func NewExecutionNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *ExecutionNotifier {
	return &ExecutionNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends an execution update to the owning session.
// Best-effort: returns nil if no session is watching the execution.
func (n *ExecutionNotifier) Notify(_ context.Context, update schema.FlowExecutionUpdate) error {
	sessionID, ok := n.sessions.SessionFor(update.ExecutionID)
	if !ok {
		return nil // no watcher, best-effort
	}

	payload := map[string]any{
		"type":         update.Type,
		"execution_id": update.ExecutionID,
		"timestamp":    update.Timestamp,
	}
	if update.NodeID != "" {
		payload["node_id"] = update.NodeID
	}
	if update.Data != nil {
		payload["data"] = update.Data
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}

	if isTerminalUpdate(update.Type) {
		n.sessions.Forget(update.ExecutionID)
	}
	return err
}

// Watch subscribes the notifier to the hub and forwards updates until ctx is
// cancelled.
func (s *FlowServer) Watch(ctx context.Context) error {
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.UpdateFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	notifier := NewExecutionNotifier(s.mcpServer, s.sessions)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-ch:
			if !ok {
				return nil
			}
			if err := notifier.Notify(ctx, update); err != nil {
				s.logger.Warn("execution notification failed",
					"execution_id", update.ExecutionID,
					"error", err,
				)
			}
		}
	}
}

func isTerminalUpdate(updateType string) bool {
	switch updateType {
	case schema.UpdateExecutionCompleted, schema.UpdateExecutionFailed, schema.UpdateExecutionCancelled:
		return true
	}
	return false
}

package session

import (
	"encoding/json"
	"log/slog"

	"github.com/roach88/aplbridge/internal/core"
)

// ExecuteCommands runs a {"commands": [...]} payload against the live
// document. Every rejection is logged and reported as a failed execution
// for token. An accepted batch starts the command-execution activity and
// ends it exactly once, reporting success on completion or failure on
// termination.
func (m *Manager) ExecuteCommands(payload []byte, token string) bool {
	if m.root == nil {
		m.stateError("executeCommands")
		m.host.OnCommandExecutionComplete(token, false)
		return false
	}

	var req struct {
		Commands json.RawMessage `json:"commands"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Error("executeCommands: malformed payload", "token", token, "error", err)
		m.host.OnCommandExecutionComplete(token, false)
		return false
	}
	var probe []json.RawMessage
	if len(req.Commands) == 0 || json.Unmarshal(req.Commands, &probe) != nil {
		slog.Error("executeCommands: commands missing or not an array", "token", token)
		m.host.OnCommandExecutionComplete(token, false)
		return false
	}

	action := m.root.ExecuteCommands(req.Commands, false)
	if action == nil {
		slog.Error("executeCommands: engine rejected commands", "token", token)
		m.host.OnCommandExecutionComplete(token, false)
		return false
	}

	m.host.OnActivityStarted(ActivityCommandExecution)
	action.Then(
		func(core.Resolution) {
			m.host.OnCommandExecutionComplete(token, true)
			m.host.OnActivityEnded(ActivityCommandExecution)
		},
		func() {
			m.host.OnCommandExecutionComplete(token, false)
			m.host.OnActivityEnded(ActivityCommandExecution)
		})
	return true
}

// InterruptCommandSequence cancels every running command sequence.
func (m *Manager) InterruptCommandSequence() {
	if m.root == nil {
		return
	}
	m.root.CancelExecution()
}

// DataSourceUpdate applies an incremental update through the provider
// registered for sourceType. On rejection the provider's queued errors are
// surfaced as a runtime error event.
func (m *Manager) DataSourceUpdate(sourceType string, payload string, token string) bool {
	if m.root == nil {
		m.stateError("dataSourceUpdate")
		return false
	}
	provider, ok := m.engine.DataSourceProvider(sourceType)
	if !ok {
		slog.Error("no data source provider", "type", sourceType, "token", token)
		return false
	}
	if !provider.ProcessUpdate(payload) {
		slog.Error("data source update rejected", "type", sourceType, "token", token)
		m.flushDataSourceErrors(token, sourceType)
		return false
	}
	return true
}

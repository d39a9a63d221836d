package agent

import (
	"encoding/json"

	"endpointagent/internal/model"
)

// decodeCommandEntries decodes the JSON array body the communicator's
// commands-pull loop hands to OnCommands into typed CommandEntry values.
func decodeCommandEntries(raw []byte) ([]model.CommandEntry, error) {
	var entries []model.CommandEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

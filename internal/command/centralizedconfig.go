package command

import (
	"context"
	"fmt"

	"endpointagent/internal/config"
	"endpointagent/internal/model"
)

// GroupFetcher retrieves one group's overlay and stores it where the
// config Store reads it on reload; in the agent it downloads through the
// communicator's FetchGroupOverlay and writes <shared_dir>/<group>.conf.
// A fetch error fails the command; there is no local fallback.
type GroupFetcher func(group string) error

// CentralizedConfig is the pseudo-module bound to model.CentralizedConfigModule.
// It handles "set-group" and "update-group" by mutating the agent's
// persisted group list and triggering a config reload.
type CentralizedConfig struct {
	identity *model.AgentIdentity
	store    *config.Store
	fetch    GroupFetcher
	persist  func(groups []string) error
}

// NewCentralizedConfig wires identity, the hot-reloadable Store, a
// per-group fetch callback, and a persistence hook (identitystore.SaveGroups).
func NewCentralizedConfig(identity *model.AgentIdentity, store *config.Store, fetch GroupFetcher, persist func(groups []string) error) *CentralizedConfig {
	return &CentralizedConfig{identity: identity, store: store, fetch: fetch, persist: persist}
}

func (c *CentralizedConfig) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) (model.CommandResult, error) {
	switch command {
	case "set-group":
		groups, err := groupsFromParams(params)
		if err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: err.Error()}, nil
		}
		before := c.identity.Groups()
		c.identity.SetGroups(groups)
		if c.persist != nil {
			if err := c.persist(c.identity.Groups()); err != nil {
				return model.CommandResult{Status: model.StatusFailure, Message: "persist groups: " + err.Error()}, nil
			}
		}
		if err := c.fetchMissing(before, c.identity.Groups()); err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: err.Error()}, nil
		}
		if err := c.store.Reload(); err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: "reload: " + err.Error()}, nil
		}
		return model.CommandResult{Status: model.StatusSuccess}, nil

	case "update-group":
		for _, g := range c.identity.Groups() {
			if c.fetch != nil {
				if err := c.fetch(g); err != nil {
					return model.CommandResult{Status: model.StatusFailure, Message: err.Error()}, nil
				}
			}
		}
		if err := c.store.Reload(); err != nil {
			return model.CommandResult{Status: model.StatusFailure, Message: "reload: " + err.Error()}, nil
		}
		return model.CommandResult{Status: model.StatusSuccess}, nil

	default:
		return model.CommandResult{Status: model.StatusFailure, Message: "unknown command: " + command}, nil
	}
}

// fetchMissing fetches the overlay for any group present in after but not
// in before, leaving groups already known untouched.
func (c *CentralizedConfig) fetchMissing(before, after []string) error {
	prior := make(map[string]struct{}, len(before))
	for _, g := range before {
		prior[g] = struct{}{}
	}
	for _, g := range after {
		if _, known := prior[g]; known {
			continue
		}
		if c.fetch == nil {
			continue
		}
		if err := c.fetch(g); err != nil {
			return fmt.Errorf("fetch group %q: %w", g, err)
		}
	}
	return nil
}

func groupsFromParams(params map[string]interface{}) ([]string, error) {
	raw, ok := params["groups"]
	if !ok {
		return nil, fmt.Errorf("missing groups parameter")
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("groups parameter must be a list")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("groups parameter must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

package config

import "github.com/paperflow/pipeline/pkg/models"

// agentIDFromString validates a YAML-supplied agent name against the known
// set, returning "" if it does not match any AgentID.
func agentIDFromString(name string) models.AgentID {
	id := models.AgentID(name)
	if id.Valid() {
		return id
	}
	return ""
}

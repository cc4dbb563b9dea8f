package router

import (
	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/state"
)

// ResolveInstance implements the shared "which instance does this belong
// to" lookup both the router (§4.5 step 2) and the hook server (§4.3
// routing) perform: prefer an explicit instanceId, then the channel a
// message arrived on, then the primary instance of agentType.
func ResolveInstance(store *state.Store, projectName, agentType, channelID, instanceID string) (*state.Project, *state.Instance, error) {
	project, ok := store.GetProject(projectName)
	if !ok {
		return nil, nil, apperr.New(apperr.UnknownReference, "unknown project "+projectName)
	}

	if instanceID != "" {
		if inst, ok := project.Instances[instanceID]; ok {
			return project, inst, nil
		}
		return nil, nil, apperr.New(apperr.UnknownReference, "unknown instance "+instanceID)
	}

	if channelID != "" {
		for _, inst := range project.Instances {
			if inst.ChannelID == channelID {
				return project, inst, nil
			}
		}
	}

	if inst, ok := store.GetPrimaryInstanceForAgent(projectName, agentType); ok {
		return project, inst, nil
	}

	return nil, nil, apperr.New(apperr.UnknownReference, "no instance for agent "+agentType+" in project "+projectName)
}

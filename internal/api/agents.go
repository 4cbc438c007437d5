package api

import "net/http"

type agentView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// handleListAgents reports each enrolled agent's persisted status alongside
// whether it currently holds a live WebSocket connection to this Hub — the
// two can disagree briefly around reconnect, which is expected.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Store.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	connected := make(map[string]bool)
	if s.Agents != nil {
		for _, id := range s.Agents.ConnectedAgentIDs() {
			connected[id] = true
		}
	}
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		id := a.ID.String()
		views = append(views, agentView{
			ID: id, Name: a.Name, Hostname: a.Hostname, OS: a.OS, Arch: a.Arch,
			Version: a.Version, Status: a.Status, Connected: connected[id],
		})
	}
	writeJSON(w, http.StatusOK, views)
}

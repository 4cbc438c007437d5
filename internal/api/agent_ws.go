package api

import "net/http"

var agentUpgrader = eventsUpgrader

// handleAgentConnect accepts an agent's reconnecting WebSocket (spec
// §4.7) and hands it to internal/agentmgr for the hello handshake and
// message loop. Agents authenticate via their hello payload, not the
// dashboard's session cookie, so this route is mounted outside
// requireAuth.
func (s *Server) handleAgentConnect(w http.ResponseWriter, r *http.Request) {
	ws, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("agent websocket upgrade failed")
		return
	}
	defer ws.Close()
	if err := s.Agents.HandleConnection(r.Context(), ws); err != nil {
		s.Logger.Warn().Err(err).Msg("agent connection ended with error")
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RelayApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.cs.ShuttingDown() {
		s.writeError(w, NewApiError(http.StatusServiceUnavailable, nil))
		return
	}

	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.cs.NumConnections(),
		Rooms:       s.cs.NumRooms(),
	})
}

func (s *RelayApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// native clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	if s.cs.ShuttingDown() {
		s.writeError(w, NewApiError(http.StatusServiceUnavailable, nil))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	if _, err := s.cs.Connect(conn); err != nil {
		// shutdown began after the check above
		s.log.Println("error registering connection:", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
	}
}

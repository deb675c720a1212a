package server

import (
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"wakegate/internal/api"
	"wakegate/internal/health"
	"wakegate/internal/lifecycle"
	"wakegate/internal/runtime/commands"
	"wakegate/internal/telemetry"

	"github.com/gin-gonic/gin"

	apidocs "wakegate/docs/api"
)

const maxLogLimit = 1000

// APIError represents a structured API error.
type APIError struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// GinAppResponse is the envelope for every dashboard JSON response.
type GinAppResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// writeGinError writes a structured error response using Gin
func writeGinError(c *gin.Context, statusCode int, message string) {
	response := GinAppResponse{
		Error: &APIError{
			Error:   http.StatusText(statusCode),
			Code:    statusCode,
			Message: message,
		},
	}
	c.JSON(statusCode, response)
}

// writeGinSuccess writes a successful response using Gin
func writeGinSuccess(c *gin.Context, data interface{}, message string) {
	response := GinAppResponse{
		Data:    data,
		Message: message,
	}
	c.JSON(http.StatusOK, response)
}

type statusResponse struct {
	State             api.BackendState  `json:"state"`
	StateChangedAt    time.Time         `json:"state_changed_at"`
	LastError         string            `json:"last_error,omitempty"`
	ActiveConnections int               `json:"active_connections"`
	PlayerCount       *int              `json:"player_count"`
	BackendAddress    string            `json:"backend_address"`
	ListenPort        int               `json:"listen_port"`
	Idle              api.IdleWindow    `json:"idle"`
	Sessions          []api.SessionInfo `json:"sessions"`
}

// handleStatus handles GET /api/v1/status. The player count is only queried
// while the backend is Ready.
func (s *GinServer) handleStatus(c *gin.Context) {
	state, changedAt, lastErr := s.orchestrator.Snapshot()
	resp := statusResponse{
		State:             state,
		StateChangedAt:    changedAt,
		ActiveConnections: s.ActiveConnections(),
		BackendAddress:    s.resolver.Fallback(),
		ListenPort:        s.cfg.Listen.Port,
		Sessions:          s.listener.Registry().Snapshot(),
	}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		resp.ListenPort = tcp.Port
	}
	if tracker := s.orchestrator.Activity(); tracker != nil {
		resp.Idle = tracker.Window()
	}
	if state == api.StateReady {
		if n, ok := s.probe.PlayerCount(c.Request.Context()); ok {
			resp.PlayerCount = &n
		}
	}
	writeGinSuccess(c, resp, "")
}

// handleLogs handles GET /api/v1/logs?limit=N.
func (s *GinServer) handleLogs(c *gin.Context) {
	limit := s.cfg.Dashboard.LogLines
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogLimit {
			writeGinError(c, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}
	writeGinSuccess(c, s.logs.Entries(limit), "")
}

// handleMetrics handles GET /api/v1/metrics with the relay and lifecycle counters.
func (s *GinServer) handleMetrics(c *gin.Context) {
	samples, err := s.metrics.Snapshot(c.Request.Context())
	if err != nil {
		writeGinError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []telemetry.Sample{}
	}
	writeGinSuccess(c, samples, "")
}

func (s *GinServer) handleBackendStart(c *gin.Context) {
	s.dispatchManual(c, lifecycle.StartBackendCommand{Source: "dashboard"})
}

func (s *GinServer) handleBackendStop(c *gin.Context) {
	s.dispatchManual(c, lifecycle.StopBackendCommand{Source: "dashboard"})
}

// dispatchManual runs a manual lifecycle command. A request that collides with
// an opposite transition is a conflict; any other failure came from the
// instance provider.
func (s *GinServer) dispatchManual(c *gin.Context, cmd commands.Command) {
	resp, err := s.dispatcher.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		if errors.Is(err, lifecycle.ErrTransitionInProgress) {
			writeGinError(c, http.StatusConflict, err.Error())
			return
		}
		writeGinError(c, http.StatusBadGateway, err.Error())
		return
	}
	out, ok := resp.(lifecycle.ManualResponse)
	if !ok {
		writeGinError(c, http.StatusInternalServerError, "unexpected command response")
		return
	}
	msg := "request accepted"
	if out.Result == api.ResultAlreadyInState {
		msg = "backend already " + out.State.String()
	}
	writeGinSuccess(c, out, msg)
}

func (s *GinServer) handleOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", apidocs.Spec)
}

func (s *GinServer) handleGinReadinessCheck(c *gin.Context) {
	ready, pending := s.healthTracker.Ready(health.ComponentListener)
	payload := gin.H{
		"ready":      ready,
		"status":     s.healthTracker.Overall().String(),
		"components": flattenHealth(s.healthTracker.Snapshot()),
	}
	if !ready {
		payload["waiting_on"] = pending
		c.JSON(http.StatusServiceUnavailable, payload)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *GinServer) handleHealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": s.healthTracker.Overall().String()})
}

func (s *GinServer) handleHealthDetail(c *gin.Context) {
	snapshot := s.healthTracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"overall":    s.healthTracker.Overall().String(),
		"components": flattenHealth(snapshot),
	})
}

func flattenHealth(snapshot map[string]health.Status) []gin.H {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	components := make([]gin.H, 0, len(snapshot))
	for _, name := range names {
		st := snapshot[name]
		components = append(components, gin.H{
			"name":       name,
			"level":      st.Level.String(),
			"message":    st.Message,
			"details":    st.Details,
			"updated_at": st.UpdatedAt,
			"since":      st.Since,
		})
	}
	return components
}

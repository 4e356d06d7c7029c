package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/runstate"
	"github.com/kbukum/devflow/session"
	"github.com/kbukum/devflow/sse"
	"github.com/kbukum/devflow/validation"
)

// APIPrefix is the base path of the run control API.
const APIPrefix = "/api/v1"

// FlowResponse is returned when a flow is registered or fetched.
type FlowResponse struct {
	Flow       *dag.Flow             `json:"flow"`
	Validation *dag.ValidationReport `json:"validation,omitempty"`
}

// FlowSummary is one entry of the flow list.
type FlowSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes int    `json:"nodes"`
}

// PlanResponse is the dry run of a flow.
type PlanResponse struct {
	Plan       *dag.Plan             `json:"plan"`
	Validation *dag.ValidationReport `json:"validation"`
}

// CheckpointResponse reports where a resumed run would start.
type CheckpointResponse struct {
	FlowID  string `json:"flowId"`
	NodeID  string `json:"nodeId,omitempty"`
	Present bool   `json:"present"`
}

// StartRunRequest is the optional body of a run start.
type StartRunRequest struct {
	Resume       bool   `json:"resume"`
	ResumeNodeID string `json:"resumeNodeId"`
	Debug        bool   `json:"debug"`
}

// StartRunResponse identifies a started run.
type StartRunResponse struct {
	RunID  string `json:"runId"`
	FlowID string `json:"flowId"`
}

// StepRequest is the optional body of a debug step. An empty node id
// releases every paused node.
type StepRequest struct {
	NodeID string `json:"nodeId"`
}

// StepResponse lists the released nodes.
type StepResponse struct {
	Stepped []string `json:"stepped"`
}

// API serves the run control routes on top of a session manager.
type API struct {
	sessions *session.Manager
	hub      *sse.Hub
	log      *logger.Logger
}

// NewAPI creates the API. hub must be the hub the manager's sse.Sink
// broadcasts to.
func NewAPI(sessions *session.Manager, hub *sse.Hub, log *logger.Logger) *API {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &API{sessions: sessions, hub: hub, log: log.WithComponent("api")}
}

// Register mounts the API under APIPrefix.
func (a *API) Register(r gin.IRouter) {
	v1 := r.Group(APIPrefix, checkParams)

	flows := v1.Group("/flows")
	flows.POST("", a.createFlow)
	flows.GET("", a.listFlows)
	flows.GET("/:flowID", a.getFlow)
	flows.GET("/:flowID/plan", a.planFlow)
	flows.GET("/:flowID/checkpoint", a.getCheckpoint)
	flows.POST("/:flowID/runs", a.startRun)

	runs := v1.Group("/runs/:runID")
	runs.GET("", a.getRun)
	runs.DELETE("", a.cancelRun)
	runs.GET("/events", a.runEvents)
	runs.POST("/debug/step", a.debugStep)
	runs.POST("/debug/stop", a.debugStop)
	runs.POST("/nodes/:nodeID/retry/confirm", a.confirmRetry)
	runs.POST("/nodes/:nodeID/retry/cancel", a.cancelRetry)
}

// checkParams rejects malformed path parameters before the handler runs.
func checkParams(c *gin.Context) {
	v := validation.New()
	if id, ok := c.Params.Get("flowID"); ok {
		v.Identifier("flowId", id)
	}
	if id, ok := c.Params.Get("runID"); ok {
		v.RequiredUUID("runId", id)
	}
	if id, ok := c.Params.Get("nodeID"); ok {
		v.Identifier("nodeId", id)
	}
	if appErr := v.Validate(); appErr != nil {
		RespondWithError(c, appErr)
		return
	}
	c.Next()
}

// --- flows ---

func (a *API) createFlow(c *gin.Context) {
	var f dag.Flow
	if err := c.ShouldBindJSON(&f); err != nil {
		RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	rep, err := a.sessions.RegisterFlow(&f)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	c.Header("Location", APIPrefix+"/flows/"+f.ID)
	RespondCreated(c, FlowResponse{Flow: &f, Validation: rep})
}

func (a *API) listFlows(c *gin.Context) {
	flows := a.sessions.Flows()
	out := make([]FlowSummary, 0, len(flows))
	for _, f := range flows {
		out = append(out, FlowSummary{ID: f.ID, Name: f.Name, Nodes: len(f.Nodes)})
	}
	RespondOKWithMeta(c, out, &Meta{Total: len(out)})
}

func (a *API) getFlow(c *gin.Context) {
	f, err := a.sessions.Flow(c.Param("flowID"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, FlowResponse{Flow: f})
}

func (a *API) planFlow(c *gin.Context) {
	plan, rep, err := a.sessions.Plan(c.Param("flowID"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, PlanResponse{Plan: plan, Validation: rep})
}

func (a *API) getCheckpoint(c *gin.Context) {
	flowID := c.Param("flowID")
	nodeID, ok, err := a.sessions.Checkpoint(c.Request.Context(), flowID)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, CheckpointResponse{FlowID: flowID, NodeID: nodeID, Present: ok})
}

// --- runs ---

func (a *API) startRun(c *gin.Context) {
	var body StartRunRequest
	if !bindOptional(c, &body) {
		return
	}
	flowID := c.Param("flowID")
	// The run outlives the request.
	runID, err := a.sessions.StartRun(context.WithoutCancel(c.Request.Context()), session.StartRequest{
		FlowID:       flowID,
		Resume:       body.Resume,
		ResumeNodeID: body.ResumeNodeID,
		Debug:        body.Debug,
	})
	if err != nil {
		RespondWithError(c, err)
		return
	}
	c.Header("Location", APIPrefix+"/runs/"+runID)
	RespondAccepted(c, StartRunResponse{RunID: runID, FlowID: flowID})
}

func (a *API) getRun(c *gin.Context) {
	st, err := a.sessions.Status(c.Request.Context(), c.Param("runID"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, st)
}

func (a *API) cancelRun(c *gin.Context) {
	runID := c.Param("runID")
	if err := a.sessions.CancelRun(runID); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondAccepted(c, StartRunResponse{RunID: runID})
}

func (a *API) debugStep(c *gin.Context) {
	var body StepRequest
	if !bindOptional(c, &body) {
		return
	}
	stepped, err := a.sessions.Step(c.Param("runID"), body.NodeID)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if stepped == nil {
		stepped = []string{}
	}
	RespondOK(c, StepResponse{Stepped: stepped})
}

func (a *API) debugStop(c *gin.Context) {
	if err := a.sessions.StopDebug(c.Param("runID")); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondNoContent(c)
}

func (a *API) confirmRetry(c *gin.Context) {
	if err := a.sessions.ConfirmRetry(c.Param("runID"), c.Param("nodeID")); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondNoContent(c)
}

func (a *API) cancelRetry(c *gin.Context) {
	if err := a.sessions.CancelRetry(c.Param("runID"), c.Param("nodeID")); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondNoContent(c)
}

// --- events ---

// runEvents streams a run's events. The first frames after connected are a
// snapshot of the run; a run that already finished also gets its
// run.finished frame and the stream ends.
func (a *API) runEvents(c *gin.Context) {
	runID := c.Param("runID")
	if _, err := a.sessions.Status(c.Request.Context(), runID); err != nil {
		RespondWithError(c, err)
		return
	}
	sse.ServeSSE(a.hub, c.Writer, c.Request, sse.ClientID(runID),
		sse.WithMetadata("run_id", runID),
		sse.WithOnConnect(func() []sse.Frame {
			return a.snapshot(c.Request.Context(), runID)
		}),
	)
}

// snapshot runs after the client is registered, so a run.finished that
// happens later still reaches it. A run that finished earlier is closed
// here instead.
func (a *API) snapshot(ctx context.Context, runID string) []sse.Frame {
	pattern := sse.RunPattern(runID)
	st, err := a.sessions.Status(ctx, runID)
	if err != nil {
		data, _ := json.Marshal(errors.Wrap(err).ToResponse())
		a.hub.ClosePattern(pattern)
		return []sse.Frame{{Event: sse.EventTypeError, Data: data}}
	}

	data, err := json.Marshal(st)
	if err != nil {
		a.log.Warn("snapshot not encoded", logger.ErrorFields("encode-snapshot", err))
	}
	frames := []sse.Frame{{Event: sse.EventTypeSnapshot, Data: data}}
	if st.Report == nil || st.Report.Status == runstate.RunRunning {
		return frames
	}

	fin, _ := json.Marshal(event.Event{
		Type:   event.RunFinished,
		RunID:  runID,
		FlowID: st.Report.FlowID,
		Status: string(st.Report.Status),
		Report: st.Report,
		Time:   time.Now(),
	})
	a.hub.ClosePattern(pattern)
	return append(frames, sse.Frame{Event: string(event.RunFinished), Data: fin})
}

// bindOptional decodes a JSON body if one was sent. It renders the error
// and returns false on malformed input.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !stderrors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			RespondWithError(c, errors.New(errors.ErrCodeInvalidInput, "Request body too large.", http.StatusRequestEntityTooLarge))
			return false
		}
		RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return false
	}
	return true
}

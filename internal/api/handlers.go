// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/BookForge/internal/services"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
	"github.com/Corphon/BookForge/internal/workflow"
)

// sseHeartbeat SSE 心跳间隔
var sseHeartbeat = 15 * time.Second

// Handler 处理API请求
type Handler struct {
	Wizard    *services.WizardService
	Export    *services.ExportService
	LLM       *services.LLMService
	Config    *services.ConfigService
	Metrics   *utils.WizardMetrics
	WebSocket *WebSocketManager
	Response  *ResponseHelper
	logger    *utils.Logger
}

// NewHandler 创建API处理器
func NewHandler(
	wizardService *services.WizardService,
	exportService *services.ExportService,
	llmService *services.LLMService,
	configService *services.ConfigService,
	metrics *utils.WizardMetrics,
	wsManager *WebSocketManager,
) *Handler {
	if metrics == nil {
		metrics = utils.NewWizardMetrics(nil)
	}
	if wsManager == nil {
		wsManager = NewWebSocketManager()
	}
	return &Handler{
		Wizard:    wizardService,
		Export:    exportService,
		LLM:       llmService,
		Config:    configService,
		Metrics:   metrics,
		WebSocket: wsManager,
		Response:  NewResponseHelper(),
		logger:    utils.GetLogger().Named("api"),
	}
}

// CreateProjectRequest 新建项目请求
type CreateProjectRequest struct {
	AutoPilot bool `json:"autoPilot"`
}

// SendMessageRequest 用户消息
type SendMessageRequest struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// AutoPilotRequest 自动驾驶开关
type AutoPilotRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// UpdateLLMConfigRequest LLM 配置更新
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config"`
}

// bindOptionalJSON 请求体可以为空
func bindOptionalJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":    "ok",
		"llm_ready": h.LLM != nil && h.LLM.IsReady(),
	})
}

// CreateProject 新建项目并开始第一个步骤
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	session, err := h.Wizard.CreateProject(req.AutoPilot)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, session, "project created")
}

// GetProject 获取项目会话快照
func (h *Handler) GetProject(c *gin.Context) {
	session, err := h.Wizard.GetProject(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, session)
}

// DeleteProject 删除项目
func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.Wizard.DeleteProject(c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id")}, "project deleted")
}

// SendMessage 提交一条用户消息
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.Action) == "" {
		h.Response.Error(c, http.StatusBadRequest, ErrorMessageInvalid, "text or action is required")
		return
	}

	session, err := h.Wizard.Submit(c.Param("id"), wizard.UserInput{Text: req.Text, Action: req.Action})
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, session)
}

// GetProgress 获取进度视图
func (h *Handler) GetProgress(c *gin.Context) {
	view, err := h.Wizard.GetProgress(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// StreamProgress 通过 SSE 推送进度，项目完成后结束
func (h *Handler) StreamProgress(c *gin.Context) {
	projectID := c.Param("id")
	if _, err := h.Wizard.GetProject(projectID); err != nil {
		h.Response.FromError(c, err)
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	progress := h.Wizard.Progress()
	updateChan := progress.Subscribe(projectID)
	defer progress.Unsubscribe(projectID, updateChan)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"projectId\":%q}\n\n", projectID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", data)
			c.Writer.Flush()
			if update.Status == "completed" {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// SetAutoPilot 开关自动驾驶
func (h *Handler) SetAutoPilot(c *gin.Context) {
	var req AutoPilotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "enabled is required", err.Error())
		return
	}
	session, err := h.Wizard.SetAutoPilot(c.Param("id"), *req.Enabled)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, session)
}

// ExportProject 导出书稿
func (h *Handler) ExportProject(c *gin.Context) {
	format := c.DefaultQuery("format", "markdown")
	if _, err := services.ParseExportFormat(format); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorExportFormatInvalid, err.Error())
		return
	}

	result, err := h.Export.ExportProject(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			code = ErrorExportFailed
		}
		h.Response.Error(c, status, code, err.Error())
		return
	}
	h.Response.ExportResponse(c, result)
}

// ListTracks 工作流定义
func (h *Handler) ListTracks(c *gin.Context) {
	catalog := h.Wizard.Engine().Catalog()
	type trackSummary struct {
		workflow.Track
		StepCount int `json:"stepCount"`
	}
	tracks := make([]trackSummary, 0, len(catalog.Tracks))
	for _, track := range catalog.Tracks {
		tracks = append(tracks, trackSummary{Track: track, StepCount: track.StepCount()})
	}
	h.Response.Success(c, gin.H{"version": catalog.Version, "tracks": tracks})
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	provider, cfg := h.Config.GetLLMConfig()
	h.Response.Success(c, gin.H{
		"status": h.LLM.Status(),
		"config": gin.H{
			"provider":    provider,
			"has_api_key": cfg["api_key"] != "",
			"model":       cfg["default_model"],
			"settings":    cfg,
		},
	})
}

// UpdateLLMConfig 更新LLM配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "provider is required", err.Error())
		return
	}
	if req.Config == nil {
		req.Config = map[string]string{}
	}

	if err := h.Config.UpdateLLMConfig(req.Provider, req.Config, c.ClientIP()); err != nil {
		h.logger.Warn("LLM configuration rejected", map[string]interface{}{"provider": req.Provider, "error": err.Error()})
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, err.Error())
		return
	}
	h.Response.Success(c, h.LLM.Status(), "LLM configuration updated")
}

// GetMetrics 运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"metrics":   h.Metrics.Collector().GetMetrics(),
		"websocket": h.WebSocket.GetStatus(),
	})
}

// clientMessage WebSocket 客户端发来的消息
type clientMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Action string `json:"action"`
}

// ProjectWebSocket 订阅项目的实时更新，也可以通过连接提交消息
func (h *Handler) ProjectWebSocket(c *gin.Context) {
	projectID := c.Param("id")
	session, err := h.Wizard.GetProject(projectID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("❌ WebSocket upgrade failed", map[string]interface{}{"project": projectID, "error": err.Error()})
		return
	}

	client := NewWebSocketClient(conn, projectID)
	h.WebSocket.Register(client)
	defer h.WebSocket.Unregister(client)

	go client.writePump()

	_ = client.SendMessage(map[string]interface{}{
		"type":    "connected",
		"session": session,
	})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read failed", map[string]interface{}{"project": projectID, "error": err.Error()})
			}
			return
		}
		h.handleClientMessage(client, data)
	}
}

func (h *Handler) handleClientMessage(client *WebSocketClient, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		client.SendError("invalid message format")
		return
	}

	switch msg.Type {
	case "ping":
		_ = client.SendMessage(map[string]interface{}{"type": "pong", "timestamp": time.Now().Unix()})
	case "message":
		if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.Action) == "" {
			client.SendError("text or action is required")
			return
		}
		// 成功时的会话更新经由广播送达
		if _, err := h.Wizard.Submit(client.projectID, wizard.UserInput{Text: msg.Text, Action: msg.Action}); err != nil {
			client.SendError(err.Error())
		}
	default:
		client.SendError("unknown message type: " + msg.Type)
	}
}

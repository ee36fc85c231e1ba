// internal/services/wizard_service.go
package services

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/observability"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
)

// Broadcaster 向订阅某个项目的客户端推送消息
type Broadcaster interface {
	BroadcastToProject(projectID string, message map[string]interface{})
}

// Dispatcher 运行一次后台调用
type Dispatcher func(fn func())

// WizardServiceConfig 控制器依赖
type WizardServiceConfig struct {
	Engine         *wizard.Engine
	Sessions       *SessionService
	Locks          *LockManager
	Progress       *ProgressService
	Orchestrator   wizard.Orchestrator
	Covers         wizard.CoverGenerator
	Metrics        *utils.WizardMetrics
	AutoPilotDelay time.Duration
	Dispatcher     Dispatcher
}

// WizardService 持有所有会话的唯一控制器：
// 串行化每个项目的变更，在锁外执行编排调用，并驱动自动驾驶。
type WizardService struct {
	engine       *wizard.Engine
	sessions     *SessionService
	locks        *LockManager
	progress     *ProgressService
	orchestrator wizard.Orchestrator
	covers       wizard.CoverGenerator
	metrics      *utils.WizardMetrics
	logger       *utils.Logger

	autoPilotDelay time.Duration
	dispatch       Dispatcher

	broadcastMutex sync.RWMutex
	broadcaster    Broadcaster

	lifecycleMutex sync.Mutex
	closed         bool
	timers         map[string]*time.Timer
	inflight       sync.WaitGroup
}

// call 一次待执行的后台调用
type call struct {
	projectID string
	action    wizard.NextAction
	request   wizard.StepRequest
	project   *models.ProjectState
}

// NewWizardService 创建控制器
func NewWizardService(cfg WizardServiceConfig) *WizardService {
	if cfg.Locks == nil {
		cfg.Locks = NewLockManager()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewProgressService()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = utils.NewWizardMetrics(nil)
	}
	if cfg.AutoPilotDelay <= 0 {
		cfg.AutoPilotDelay = 4 * time.Second
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = func(fn func()) { go fn() }
	}

	w := &WizardService{
		engine:         cfg.Engine,
		sessions:       cfg.Sessions,
		locks:          cfg.Locks,
		progress:       cfg.Progress,
		orchestrator:   cfg.Orchestrator,
		covers:         cfg.Covers,
		metrics:        cfg.Metrics,
		logger:         utils.GetLogger().Named("controller"),
		autoPilotDelay: cfg.AutoPilotDelay,
		dispatch:       cfg.Dispatcher,
		timers:         make(map[string]*time.Timer),
	}
	w.sessions.OnEvicted(w.forget)
	return w
}

// SetBroadcaster 注入 WebSocket 推送
func (w *WizardService) SetBroadcaster(b Broadcaster) {
	w.broadcastMutex.Lock()
	defer w.broadcastMutex.Unlock()
	w.broadcaster = b
}

// Engine 使用中的引擎
func (w *WizardService) Engine() *wizard.Engine {
	return w.engine
}

// Progress 进度服务，供 SSE 订阅
func (w *WizardService) Progress() *ProgressService {
	return w.progress
}

// CreateProject 新建项目并请求第一个步骤
func (w *WizardService) CreateProject(autoPilot bool) (*wizard.Session, error) {
	id := w.sessions.NewID()
	session := w.engine.NewSession(id)
	session.AutoPilot = autoPilot

	var (
		snapshot *wizard.Session
		pending  *call
	)
	err := w.locks.WithProjectLock(id, func() error {
		action, err := w.engine.Start(session)
		if err != nil {
			return err
		}
		snapshot, pending = w.commit(session, action)
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.metrics.SetActiveProjects(w.sessions.Count())
	w.logger.Info("📘 project created", map[string]interface{}{"project": id, "autopilot": autoPilot})
	w.launch(pending)
	return snapshot, nil
}

// GetProject 当前会话快照
func (w *WizardService) GetProject(id string) (*wizard.Session, error) {
	var snapshot *wizard.Session
	err := w.locks.WithProjectLock(id, func() error {
		session, ok := w.sessions.Get(id)
		if !ok {
			return apperrors.NewNotFoundError("project "+id+" not found", nil)
		}
		snapshot = session.Snapshot()
		return nil
	})
	return snapshot, err
}

// GetProgress 当前进度投影
func (w *WizardService) GetProgress(id string) (models.ProgressView, error) {
	snapshot, err := w.GetProject(id)
	if err != nil {
		return models.ProgressView{}, err
	}
	return snapshot.Progress(), nil
}

// Submit 处理一条用户消息。忙碌时返回冲突错误。
func (w *WizardService) Submit(id string, input wizard.UserInput) (*wizard.Session, error) {
	var (
		snapshot *wizard.Session
		pending  *call
	)
	err := w.locks.WithProjectLock(id, func() error {
		session, ok := w.sessions.Get(id)
		if !ok {
			return apperrors.NewNotFoundError("project "+id+" not found", nil)
		}

		action, err := w.engine.Advance(session, input)
		switch {
		case err == nil:
		case apperrors.IsMissingStepError(err):
			// 已作为聊天消息告知用户，会话仍然可用
			w.metrics.RecordReconcileFailure(string(apperrors.ErrorTypeMissingStep))
		default:
			return err
		}
		if action.Kind == wizard.ActionRequest {
			w.metrics.RecordStepAdvance(action.StepID)
		}
		snapshot, pending = w.commit(session, action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.launch(pending)
	return snapshot, nil
}

// SetAutoPilot 开关自动驾驶
func (w *WizardService) SetAutoPilot(id string, enabled bool) (*wizard.Session, error) {
	var snapshot *wizard.Session
	err := w.locks.WithProjectLock(id, func() error {
		session, ok := w.sessions.Get(id)
		if !ok {
			return apperrors.NewNotFoundError("project "+id+" not found", nil)
		}
		session.AutoPilot = enabled
		snapshot, _ = w.commit(session, wizard.NextAction{Kind: wizard.ActionNone})
		return nil
	})
	if err == nil {
		w.logger.Info("auto-pilot toggled", map[string]interface{}{"project": id, "enabled": enabled})
	}
	return snapshot, err
}

// DeleteProject 删除项目（触发淘汰回调）
func (w *WizardService) DeleteProject(id string) error {
	if _, ok := w.sessions.Get(id); !ok {
		return apperrors.NewNotFoundError("project "+id+" not found", nil)
	}
	w.sessions.Delete(id)
	return nil
}

// Wait 等待所有已发出的后台调用结束
func (w *WizardService) Wait() {
	w.inflight.Wait()
}

// Close 停止自动驾驶计时器并等待后台调用结束
func (w *WizardService) Close() {
	w.lifecycleMutex.Lock()
	w.closed = true
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.lifecycleMutex.Unlock()
	w.inflight.Wait()
}

// commit 保存会话、推送状态、安排自动驾驶；必须持有项目锁
func (w *WizardService) commit(session *wizard.Session, action wizard.NextAction) (*wizard.Session, *call) {
	w.sessions.Put(session)
	snapshot := session.Snapshot()
	w.publish(snapshot)
	w.scheduleAutoPilot(session)

	if action.Kind != wizard.ActionRequest {
		return snapshot, nil
	}
	return snapshot, &call{
		projectID: session.ID,
		action:    action,
		request:   w.engine.Request(session, action),
	}
}

func (w *WizardService) publish(snapshot *wizard.Session) {
	status, message := "idle", ""
	switch {
	case snapshot.Completed:
		status = "completed"
	case snapshot.IsLoading:
		status = "working"
	}
	if last, ok := snapshot.LastAssistantMessage(); ok {
		message = truncate(last.Text, 120)
	}
	w.progress.Publish(snapshot.ID, snapshot.Progress(), status, message)

	w.broadcastMutex.RLock()
	b := w.broadcaster
	w.broadcastMutex.RUnlock()
	if b != nil {
		b.BroadcastToProject(snapshot.ID, map[string]interface{}{
			"type":    "session_update",
			"status":  status,
			"session": snapshot,
		})
	}
}

// track 登记一次后台工作；关闭后返回 false
func (w *WizardService) track() bool {
	w.lifecycleMutex.Lock()
	defer w.lifecycleMutex.Unlock()
	if w.closed {
		return false
	}
	w.inflight.Add(1)
	return true
}

func (w *WizardService) launch(c *call) {
	if c == nil || !w.track() {
		return
	}
	w.dispatch(func() {
		defer w.inflight.Done()
		w.execute(c)
	})
}

// execute 在锁外调用编排边界，再在锁内合并结果
func (w *WizardService) execute(c *call) {
	ctx, span := startCallSpan(c)
	start := time.Now()
	result := w.orchestrator.ProcessStep(ctx, c.request)
	w.metrics.RecordBoundaryCall(string(c.action.Mode), result.Success, time.Since(start))
	span.End()

	var cover, analysis *call
	_ = w.locks.WithProjectLock(c.projectID, func() error {
		session, ok := w.sessions.Get(c.projectID)
		if !ok {
			w.logger.Warn("project expired before response arrived", map[string]interface{}{"project": c.projectID})
			return nil
		}

		outcome, err := w.engine.Reconcile(session, c.action, result)
		if err != nil {
			kind, _ := apperrors.TypeOf(err)
			w.metrics.RecordReconcileFailure(string(kind))
			if apperrors.IsConflictError(err) {
				w.logger.Warn("discarding stale response", map[string]interface{}{
					"project": c.projectID, "step": c.action.StepID,
				})
				return nil
			}
		}
		if err == nil && outcome.NeedsCover {
			cover = &call{projectID: c.projectID, action: c.action, project: session.Project.Clone()}
		}
		if outcome.Analysis != nil {
			analysis = &call{
				projectID: c.projectID,
				action:    *outcome.Analysis,
				request:   w.engine.Request(session, *outcome.Analysis),
			}
		}
		w.commit(session, wizard.NextAction{Kind: wizard.ActionNone})
		return nil
	})

	if analysis != nil {
		w.launchAnalysis(analysis)
	}
	if cover != nil {
		w.renderCovers(cover)
	}
}

func startCallSpan(c *call) (context.Context, trace.Span) {
	return observability.StartSpan(context.Background(), "wizard.call",
		observability.AttrProjectID.String(c.projectID),
		observability.AttrStepID.String(c.action.StepID),
		observability.AttrMode.String(string(c.action.Mode)),
	)
}

// renderCovers 封面图片生成，忙碌标志在此之前一直保持
func (w *WizardService) renderCovers(c *call) {
	start := time.Now()
	urls, genErr := w.covers.GenerateCoverConcepts(context.Background(), c.project)
	w.metrics.RecordBoundaryCall("cover", genErr == nil, time.Since(start))

	_ = w.locks.WithProjectLock(c.projectID, func() error {
		session, ok := w.sessions.Get(c.projectID)
		if !ok {
			return nil
		}
		if _, err := w.engine.ApplyCoverImages(session, c.action, urls, genErr); err != nil {
			kind, _ := apperrors.TypeOf(err)
			w.metrics.RecordReconcileFailure(string(kind))
			if apperrors.IsConflictError(err) {
				return nil
			}
		}
		w.commit(session, wizard.NextAction{Kind: wizard.ActionNone})
		return nil
	})
}

// launchAnalysis 旁路章节分析，不占用忙碌标志
func (w *WizardService) launchAnalysis(c *call) {
	if !w.track() {
		return
	}
	w.dispatch(func() {
		defer w.inflight.Done()

		ctx, span := startCallSpan(c)
		start := time.Now()
		result := w.orchestrator.ProcessStep(ctx, c.request)
		w.metrics.RecordBoundaryCall(string(c.action.Mode), result.Success, time.Since(start))
		span.End()

		_ = w.locks.WithProjectLock(c.projectID, func() error {
			session, ok := w.sessions.Get(c.projectID)
			if !ok {
				return nil
			}
			if _, applied := w.engine.ApplyAnalysis(session, c.action, result); applied {
				w.sessions.Put(session)
				w.publish(session.Snapshot())
			}
			return nil
		})
	})
}

// scheduleAutoPilot 空闲时在延迟后代替用户回复；必须持有项目锁
func (w *WizardService) scheduleAutoPilot(session *wizard.Session) {
	w.lifecycleMutex.Lock()
	defer w.lifecycleMutex.Unlock()

	id := session.ID
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
	if w.closed || !wizard.AutoPilotReady(session) {
		return
	}
	w.timers[id] = time.AfterFunc(w.autoPilotDelay, func() { w.autoPilotTick(id) })
}

func (w *WizardService) autoPilotTick(id string) {
	if !w.track() {
		return
	}
	defer w.inflight.Done()

	var input string
	ready := false
	_ = w.locks.WithProjectLock(id, func() error {
		session, ok := w.sessions.Get(id)
		if !ok || !wizard.AutoPilotReady(session) {
			return nil
		}
		input = wizard.NextAutoPilotInput(session.Transcript)
		ready = true
		return nil
	})
	if !ready {
		return
	}

	w.logger.Info("🤖 auto-pilot reply", map[string]interface{}{"project": id, "input": input})
	if _, err := w.Submit(id, wizard.UserInput{Text: input}); err != nil {
		w.logger.Debug("auto-pilot reply skipped", map[string]interface{}{"project": id, "error": err.Error()})
	}
}

// forget 会话淘汰后清理计时器、锁和订阅
func (w *WizardService) forget(id string) {
	w.lifecycleMutex.Lock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
	w.lifecycleMutex.Unlock()

	w.locks.Release(id)
	w.progress.Remove(id)
	w.metrics.SetActiveProjects(w.sessions.Count())
}

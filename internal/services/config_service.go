// internal/services/config_service.go
package services

import (
	"errors"
	"sync"
	"time"

	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/utils"
)

// ConfigService 提供运行时配置管理
type ConfigService struct {
	subscribers   []ConfigChangeSubscriber
	changeHistory []ConfigChangeRecord
	mu            sync.RWMutex
	logger        *utils.Logger
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig) error
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	ChangedBy string      `json:"changed_by"`
	Section   string      `json:"section"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
}

// 保留的变更记录条数
const maxChangeHistory = 100

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	return &ConfigService{
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, maxChangeHistory),
		logger:        utils.GetLogger().Named("config"),
	}
}

// UpdateLLMConfig 更新并持久化 LLM 配置，然后通知订阅者
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider == "" {
		return errors.New("provider is required")
	}

	oldConfig := config.GetCurrentConfig()
	if err := config.UpdateLLMConfig(provider, configMap); err != nil {
		return err
	}
	newConfig := config.GetCurrentConfig()

	s.mu.Lock()
	s.recordChange("llm.provider", oldConfig.LLMProvider, provider, changedBy)
	subscribers := append([]ConfigChangeSubscriber(nil), s.subscribers...)
	s.mu.Unlock()

	var errs []error
	for _, sub := range subscribers {
		if err := sub.OnConfigChanged(oldConfig, newConfig); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("⚙️ LLM configuration updated", map[string]interface{}{
		"provider": provider, "by": changedBy,
	})
	return errors.Join(errs...)
}

// GetLLMConfig 当前 LLM 配置，API 密钥已打码
func (s *ConfigService) GetLLMConfig() (string, map[string]string) {
	cfg := config.GetCurrentConfig()
	masked := make(map[string]string, len(cfg.LLMConfig))
	for k, v := range cfg.LLMConfig {
		if k == "api_key" && v != "" {
			masked[k] = maskSecret(v)
			continue
		}
		masked[k] = v
	}
	return cfg.LLMProvider, masked
}

// SubscribeToChanges 订阅配置变更
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscriber)
}

// GetChangeHistory 最近的变更记录（最新在后）
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}
	out := make([]ConfigChangeRecord, limit)
	copy(out, s.changeHistory[len(s.changeHistory)-limit:])
	return out
}

func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
	if len(s.changeHistory) > maxChangeHistory {
		s.changeHistory = s.changeHistory[len(s.changeHistory)-maxChangeHistory:]
	}
}

func maskSecret(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "****" + v[len(v)-4:]
}

// OnConfigChanged 让 LLMService 跟随配置切换提供者
func (s *LLMService) OnConfigChanged(_, newConfig *config.AppConfig) error {
	if newConfig.LLMProvider == OfflineProviderName {
		s.providerMutex.Lock()
		s.provider = nil
		s.providerName = OfflineProviderName
		s.isReady = false
		s.readyState = "Offline mode: scripted orchestrator in use"
		s.providerMutex.Unlock()
		return nil
	}
	return s.UpdateProvider(newConfig.LLMProvider, newConfig.LLMConfig)
}

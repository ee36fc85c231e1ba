// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	ExportDir string `json:"export_dir"`
	LogDir    string `json:"log_dir"`
	LogLevel  string `json:"log_level"`
	DebugMode bool   `json:"debug_mode"`

	// 向导运行参数
	AutoPilotDelay time.Duration `json:"autopilot_delay"`
	SessionTTL     time.Duration `json:"session_ttl"`
	CallTimeout    time.Duration `json:"call_timeout"`
	TraceStdout    bool          `json:"trace_stdout"`
	WorkflowFile   string        `json:"workflow_file,omitempty"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port           string
	DataDir        string
	ExportDir      string
	LogDir         string
	LogLevel       string
	DebugMode      bool
	AutoPilotDelay time.Duration
	SessionTTL     time.Duration
	CallTimeout    time.Duration
	TraceStdout    bool
	WorkflowFile   string

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string
	ImageModel  string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		DataDir:        getEnv("DATA_DIR", "data"),
		LogDir:         getEnv("LOG_DIR", "logs"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DebugMode:      getEnvBool("DEBUG_MODE", true),
		AutoPilotDelay: getEnvDuration("AUTOPILOT_DELAY", 4*time.Second),
		SessionTTL:     getEnvDuration("SESSION_TTL", 6*time.Hour),
		CallTimeout:    getEnvDuration("LLM_CALL_TIMEOUT", 3*time.Minute),
		TraceStdout:    getEnvBool("TRACE_STDOUT", false),
		WorkflowFile:   getEnv("WORKFLOW_FILE", ""),
		LLMProvider:    getEnv("LLM_PROVIDER", "offline"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", ""),
		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		ImageModel:     getEnv("IMAGE_MODEL", ""),
	}
	config.ExportDir = getEnv("EXPORT_DIR", filepath.Join(config.DataDir, "exports"))

	if config.LLMProvider != "offline" && config.LLMAPIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置LLM API密钥，将使用离线编排器，需要在设置接口中配置后才能调用真实模型")
	}

	if config.AutoPilotDelay <= 0 {
		return nil, fmt.Errorf("AUTOPILOT_DELAY 必须大于0")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvDuration 获取时长类型环境变量，支持 "4s" 或纯数字秒
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("警告: 无法解析 %s=%q，使用默认值 %s", key, value, defaultValue)
	return defaultValue
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = fromBase(baseConfig)
	currentConfig.DataDir = dataDir

	// 尝试从文件加载已保存的LLM设置，基础配置始终以环境变量为准
	if data, err := os.ReadFile(configFile); err == nil {
		var savedConfig AppConfig
		if json.Unmarshal(data, &savedConfig) == nil && savedConfig.LLMProvider != "" {
			currentConfig.LLMProvider = savedConfig.LLMProvider
			if savedConfig.LLMConfig != nil {
				if savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = baseConfig.LLMAPIKey
				}
				currentConfig.LLMConfig = savedConfig.LLMConfig
			}
		}
	}

	return saveLocked()
}

func fromBase(base *Config) *AppConfig {
	return &AppConfig{
		Port:           base.Port,
		DataDir:        base.DataDir,
		ExportDir:      base.ExportDir,
		LogDir:         base.LogDir,
		LogLevel:       base.LogLevel,
		DebugMode:      base.DebugMode,
		AutoPilotDelay: base.AutoPilotDelay,
		SessionTTL:     base.SessionTTL,
		CallTimeout:    base.CallTimeout,
		TraceStdout:    base.TraceStdout,
		WorkflowFile:   base.WorkflowFile,
		LLMProvider:    base.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":       base.LLMAPIKey,
			"default_model": base.LLMModel,
			"base_url":      base.LLMBaseURL,
			"image_model":   base.ImageModel,
		},
	}
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，直接用环境变量构造
		baseConfig, err := Load()
		if err != nil {
			return &AppConfig{Port: "8080", LLMProvider: "offline", AutoPilotDelay: 4 * time.Second}
		}
		return fromBase(baseConfig)
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}

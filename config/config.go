// Package config 加载服务配置
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"houseprice/pipeline"
)

// Config 服务配置
type Config struct {
	HTTP struct {
		Port            int           `yaml:"port"`
		Timeout         time.Duration `yaml:"timeout"`
		MaxRequestBytes int64         `yaml:"max_request_bytes"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Artifacts struct {
		PreprocessorPath string `yaml:"preprocessor_path"`
		ModelPath        string `yaml:"model_path"`
		Watch            bool   `yaml:"watch"`
	} `yaml:"artifacts"`
	Validation ValidationConfig `yaml:"validation"`
	Batch      struct {
		MaxSize int `yaml:"max_size"`
		Workers int `yaml:"workers"`
	} `yaml:"batch"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Cache struct {
		RecentResults int `yaml:"recent_results"`
	} `yaml:"cache"`
	Log struct {
		Level      string `yaml:"level"`
		Mode       string `yaml:"mode"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// ValidationConfig 输入校验所需的枚举和数值边界
type ValidationConfig struct {
	Locations    []string `yaml:"locations"`
	Conditions   []string `yaml:"conditions"`
	SqftMin      float64  `yaml:"sqft_min"`
	BedroomsMin  int      `yaml:"bedrooms_min"`
	BathroomsMin float64  `yaml:"bathrooms_min"`
	YearBuiltMin int      `yaml:"year_built_min"`
}

// Rules 转换为校验器规则
func (v ValidationConfig) Rules(now func() time.Time) pipeline.ValidationRules {
	return pipeline.ValidationRules{
		Locations:    v.Locations,
		Conditions:   v.Conditions,
		SqftMin:      v.SqftMin,
		BedroomsMin:  v.BedroomsMin,
		BathroomsMin: v.BathroomsMin,
		YearBuiltMin: v.YearBuiltMin,
		Now:          now,
	}
}

const envPrefix = "HOUSEPRICE_"

// Load 读取YAML配置文件，叠加 .env 与 HOUSEPRICE_* 环境变量，并填充默认值
func Load(path string) (*Config, error) {
	// .env 可选
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() error {
	if v, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookupEnv("MAX_BATCH_SIZE"); ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_BATCH_SIZE: %w", envPrefix, err)
		}
		c.Batch.MaxSize = size
	}
	if v, ok := lookupEnv("PREPROCESSOR_PATH"); ok {
		c.Artifacts.PreprocessorPath = v
	}
	if v, ok := lookupEnv("MODEL_PATH"); ok {
		c.Artifacts.ModelPath = v
	}
	if v, ok := lookupEnv("DATABASE_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.MaxRequestBytes == 0 {
		c.HTTP.MaxRequestBytes = 1 << 20
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.Batch.MaxSize == 0 {
		c.Batch.MaxSize = 100
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = 1
	}
	if c.Validation.YearBuiltMin == 0 {
		c.Validation.YearBuiltMin = 1800
	}
	if c.Cache.RecentResults == 0 {
		c.Cache.RecentResults = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate 校验配置完整性
func (c *Config) Validate() error {
	var problems []string
	if c.Artifacts.PreprocessorPath == "" {
		problems = append(problems, "artifacts.preprocessor_path is required")
	}
	if c.Artifacts.ModelPath == "" {
		problems = append(problems, "artifacts.model_path is required")
	}
	if len(c.Validation.Locations) == 0 {
		problems = append(problems, "validation.locations must not be empty")
	}
	if len(c.Validation.Conditions) == 0 {
		problems = append(problems, "validation.conditions must not be empty")
	}
	if c.Batch.MaxSize < 0 {
		problems = append(problems, "batch.max_size must be positive")
	}
	if c.Batch.Workers < 0 {
		problems = append(problems, "batch.workers must be positive")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

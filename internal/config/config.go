package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quant-grid-bot-go/internal/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LoadConfig 从指定路径加载配置文件 (JSON 或 YAML) 并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置字段
func Validate(cfg *models.Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		if seen[p.Symbol] {
			return fmt.Errorf("配置校验失败: 交易对 %s 重复", p.Symbol)
		}
		seen[p.Symbol] = true
	}
	return nil
}

func defaultConfig() *models.Config {
	return &models.Config{
		DBPath:          "data/state",
		ExchangeName:    "binance",
		TickIntervalSec: 60,
		CandleInterval:  "1h",
		CandleLimit:     600,
		LiveAPIURL:      "https://api.binance.com",
		LiveWSURL:       "wss://stream.binance.com:9443",
		TestnetAPIURL:   "https://testnet.binance.vision",
		TestnetWSURL:    "wss://testnet.binance.vision",
		LogConfig: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
		Backtest: models.BacktestSettings{
			InitialBalance: 1000,
			TakerFeeRate:   0.001,
			MakerFeeRate:   0.001,
			Warmup:         600,
		},
	}
}

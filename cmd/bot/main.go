package main

import (
	"context"
	"os"
	"time"

	"quant-grid-bot-go/internal/config"
	"quant-grid-bot-go/internal/logger"
	"quant-grid-bot-go/internal/models"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const dateLayout = "2006-01-02"

func main() {
	// 先用默认配置初始化日志，加载 .env 或配置文件时也能输出
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	cmd := &cli.Command{
		Name:  "gqbot",
		Usage: "spot trading bot: directional strategies, grid engine and walk-forward optimizer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the config file (json or yaml)",
				Value:   "config.json",
			},
		},
		Commands: []*cli.Command{
			liveCommand(),
			backtestCommand(),
			downloadCommand(),
			schemaCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.S().Fatal(err)
	}
}

// loadConfig 加载 .env 与配置文件，并按配置重新初始化全局日志
func loadConfig(path string) (*models.Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.LogConfig)
	return cfg, nil
}

func dateFlag(name, usage string, required bool) *cli.TimestampFlag {
	return &cli.TimestampFlag{
		Name:     name,
		Usage:    usage + " (YYYY-MM-DD)",
		Required: required,
		Config: cli.TimestampConfig{
			Layouts: []string{dateLayout},
		},
	}
}

func millis(ms int64) time.Time { return time.UnixMilli(ms) }

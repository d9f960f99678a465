package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quant-grid-bot-go/internal/api"
	"quant-grid-bot-go/internal/bot"
	"quant-grid-bot-go/internal/exchange"
	"quant-grid-bot-go/internal/logger"
	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/persistence"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const maxClockSkewMs = 1000

func liveCommand() *cli.Command {
	return &cli.Command{
		Name:   "live",
		Usage:  "run every configured pair against Binance spot",
		Action: runLive,
	}
}

func runLive(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("无法加载配置文件: %w", err)
	}
	log := logger.L()
	defer log.Sync()
	log.Info("--- 启动实时交易模式 ---")

	// 从环境变量加载API密钥
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		return errors.New("BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置")
	}

	if cfg.IsTestnet {
		cfg.BaseURL, cfg.WSBaseURL = cfg.TestnetAPIURL, cfg.TestnetWSURL
		log.Info("正在使用币安测试网...")
	} else {
		cfg.BaseURL, cfg.WSBaseURL = cfg.LiveAPIURL, cfg.LiveWSURL
		log.Info("正在使用币安生产网...")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ex := exchange.NewLiveExchange(apiKey, secretKey, cfg.BaseURL, cfg.IsTestnet, log)
	if offset, err := ex.CheckTimeSync(ctx); err != nil {
		log.Warn("无法检查服务器时间", zap.Error(err))
	} else if offset > maxClockSkewMs || offset < -maxClockSkewMs {
		log.Warn("本地时钟与服务器时间偏差过大，签名请求可能被拒绝", zap.Int64("offsetMs", offset))
	}

	// 每个交易对一条 bookTicker 推送流；退出时先取消再等待
	var wg sync.WaitGroup
	defer wg.Wait()
	streamCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()
	ping := time.Duration(cfg.WebSocketPingIntervalSec) * time.Second
	for _, pc := range cfg.Pairs {
		s := exchange.NewPriceStream(cfg.WSBaseURL, pc.Symbol, ping, log)
		ex.WithPriceStream(pc.Symbol, s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(streamCtx)
		}()
	}

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开状态数据库失败: %w", err)
	}
	defer repo.Close()

	m := metrics.New()
	runner := bot.NewRunner(cfg, ex, repo, m, log)
	log.Info("运行ID", zap.String("run", runner.RunID))

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           api.NewRouter(runner, m, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("状态接口已启动", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("状态接口异常退出", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("关闭状态接口失败", zap.Error(err))
			}
		}()
	}

	if err := runner.RunLive(ctx); err != nil {
		return err
	}
	log.Info("机器人已成功停止，状态已保存。")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"quant-grid-bot-go/internal/bot"
	"quant-grid-bot-go/internal/downloader"
	"quant-grid-bot-go/internal/exchange"
	"quant-grid-bot-go/internal/logger"
	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/persistence"
	"quant-grid-bot-go/internal/reporter"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func backtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "backtest",
		Usage: "replay historical klines through one configured pair and print a report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pair", Usage: "symbol of the pair config to replay (default: first pair)"},
			&cli.StringFlag{Name: "data", Usage: "path to a kline CSV file"},
			&cli.StringFlag{Name: "dir", Usage: "directory for downloaded klines", Value: "data"},
			dateFlag("start", "download klines from this date", false),
			dateFlag("end", "download klines up to this date", false),
		},
		Action: runBacktest,
	}
}

func runBacktest(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("无法加载配置文件: %w", err)
	}
	log := logger.L()
	defer log.Sync()
	log.Info("--- 启动回测模式 ---")

	pc, err := selectPair(cfg, cmd.String("pair"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataPath, err := resolveData(ctx, cmd, cfg, pc.Symbol, log)
	if err != nil {
		return err
	}
	candles, err := downloader.LoadCandlesCSV(dataPath)
	if err != nil {
		return err
	}

	// 回放只针对一个交易对，且必须真实撮合
	cfg.Pairs = []models.PairConfig{pc}
	cfg.ExchangeName = "backtest"
	cfg.DryRun = false

	repo, err := persistence.NewInMemoryRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	be := exchange.NewBacktestExchange(pc.Symbol, cfg.Backtest, log)
	runner := bot.NewRunner(cfg, be, repo, metrics.New(), log)
	if err := runner.RunReplay(ctx, be, candles, cfg.Backtest.Warmup); err != nil {
		return fmt.Errorf("回放失败: %w", err)
	}

	reporter.GenerateReport(be, reporter.Options{
		RunID:     runner.RunID,
		Strategy:  pc.Strategy,
		DataPath:  dataPath,
		StartTime: millis(candles.Time[0]),
		EndTime:   millis(candles.LastTime()),
	}, os.Stdout)
	return nil
}

// selectPair 按交易对名称选择配置，未指定时取第一个
func selectPair(cfg *models.Config, symbol string) (models.PairConfig, error) {
	if symbol == "" {
		return cfg.Pairs[0], nil
	}
	for _, pc := range cfg.Pairs {
		if pc.Symbol == symbol {
			return pc, nil
		}
	}
	return models.PairConfig{}, fmt.Errorf("配置中没有交易对 %s", symbol)
}

// resolveData 返回回测数据文件；给定 --start/--end 时先下载 (已缓存则跳过)
func resolveData(ctx context.Context, cmd *cli.Command, cfg *models.Config, symbol string, log *zap.Logger) (string, error) {
	if path := cmd.String("data"); path != "" {
		return path, nil
	}
	if !cmd.IsSet("start") || !cmd.IsSet("end") {
		return "", errors.New("回测模式需要通过 --data 或 --start/--end 参数指定数据源")
	}
	start, end := cmd.Timestamp("start"), cmd.Timestamp("end")
	if !end.After(start) {
		return "", errors.New("--end 必须晚于 --start")
	}

	fileName := filepath.Join(cmd.String("dir"), fmt.Sprintf("%s-%s-%s-%s.csv",
		symbol, cfg.CandleInterval, start.Format(dateLayout), end.Format(dateLayout)))
	d := downloader.NewKlineDownloader(cfg.LiveAPIURL, log)
	if err := d.DownloadKlines(ctx, symbol, cfg.CandleInterval, fileName, start, end); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return fileName, nil
}

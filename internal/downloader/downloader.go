package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quant-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client *binance.Client
	logger *zap.Logger
	Pause  time.Duration // 两次请求之间的间隔，避免触发限频
}

// NewKlineDownloader 创建一个新的下载器实例。公共接口不需要API Key。
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &KlineDownloader{client: client, logger: logger, Pause: 200 * time.Millisecond}
}

// DownloadKlines 下载指定交易对、周期和时间范围内的K线数据，并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}

	d.logger.Info("开始下载K线数据",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Time("start", startTime),
		zap.Time("end", endTime),
	)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", filepath.Dir(filePath), err)
	}
	// 先写临时文件，完整下载后再改名，避免中断留下残缺的缓存
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}

	end := endTime.UnixMilli()
	rows := 0
	for t := startTime.UnixMilli(); t < end; {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t).
			EndTime(end - 1).
			Limit(1000). // 币安单次请求最多1000条
			Do(ctx)
		if err != nil {
			return fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= end {
				continue
			}
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}

		// 更新下一次请求的开始时间
		t = klines[len(klines)-1].CloseTime + 1
		d.logger.Debug("已下载数据", zap.Time("until", time.UnixMilli(t)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.Pause):
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("关闭文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("保存文件 %s 失败: %w", filePath, err)
	}
	d.logger.Info("成功下载K线数据", zap.String("file", filePath), zap.Int("rows", rows))
	return nil
}

// LoadCandlesCSV 读取 open_time,open,high,low,close,volume 开头的CSV文件。表头行可选。
func LoadCandlesCSV(path string) (models.Candles, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Candles{}, fmt.Errorf("无法打开数据文件: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var c models.Candles
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.Candles{}, fmt.Errorf("读取CSV第 %d 行失败: %w", line, err)
		}
		if len(rec) < 6 {
			return models.Candles{}, fmt.Errorf("CSV第 %d 行字段不足: %d", line, len(rec))
		}
		t, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			if line == 1 {
				continue // 表头
			}
			return models.Candles{}, fmt.Errorf("CSV第 %d 行时间无效: %w", line, err)
		}
		var v [5]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64); err != nil {
				return models.Candles{}, fmt.Errorf("CSV第 %d 行数值无效: %w", line, err)
			}
		}
		if n := c.Len(); n > 0 && t <= c.Time[n-1] {
			return models.Candles{}, fmt.Errorf("CSV第 %d 行时间未递增", line)
		}
		c.Append(t, v[0], v[1], v[2], v[3], v[4])
	}
	return c, nil
}

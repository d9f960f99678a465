package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PriceStream 订阅 <symbol>@bookTicker，缓存最新的最优买卖价
type PriceStream struct {
	url    string
	logger *zap.Logger

	PongWait       time.Duration
	PingPeriod     time.Duration // 必须小于 PongWait
	ReconnectDelay time.Duration
	MaxAge         time.Duration // 超过该时长未更新的报价视为过期

	mu      sync.RWMutex
	bid     float64
	ask     float64
	updated time.Time
}

type bookTicker struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// NewPriceStream 创建价格流。wsBaseURL 例如 "wss://stream.binance.com:9443"。
func NewPriceStream(wsBaseURL, symbol string, pingInterval time.Duration, logger *zap.Logger) *PriceStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	return &PriceStream{
		url:            fmt.Sprintf("%s/ws/%s@bookTicker", strings.TrimRight(wsBaseURL, "/"), strings.ToLower(symbol)),
		logger:         logger.With(zap.String("symbol", symbol)),
		PongWait:       pingInterval * 10 / 9,
		PingPeriod:     pingInterval,
		ReconnectDelay: 5 * time.Second,
		MaxAge:         30 * time.Second,
	}
}

// Quote 返回缓存的买卖价；从未收到或已过期时 ok 为 false
func (s *PriceStream) Quote() (bid, ask float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updated.IsZero() || time.Since(s.updated) > s.MaxAge {
		return 0, 0, false
	}
	return s.bid, s.ask, true
}

// Run 维持 WebSocket 连接并在断开后重连，直到 ctx 结束
func (s *PriceStream) Run(ctx context.Context) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("WebSocket连接失败，稍后重试", zap.Error(err), zap.Duration("delay", s.ReconnectDelay))
		} else {
			s.logger.Info("WebSocket连接成功")
			if err := s.handle(ctx, conn); err != nil {
				s.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			s.logger.Info("WebSocket循环已停止")
			return
		case <-time.After(s.ReconnectDelay):
		}
	}
}

// handle 处理一个已建立的连接，阻塞直到连接断开或 ctx 结束
func (s *PriceStream) handle(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		pingTicker := time.NewTicker(s.PingPeriod)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					s.logger.Debug("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 优雅关闭，ReadMessage 随后返回错误
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}

		var t bookTicker
		if err := json.Unmarshal(message, &t); err != nil {
			s.logger.Debug("解析盘口信息失败", zap.Error(err))
			continue
		}
		bid, err1 := strconv.ParseFloat(t.Bid, 64)
		ask, err2 := strconv.ParseFloat(t.Ask, 64)
		if err1 != nil || err2 != nil {
			s.logger.Debug("转换价格失败", zap.String("payload", string(message)))
			continue
		}

		s.mu.Lock()
		s.bid, s.ask, s.updated = bid, ask, time.Now()
		s.mu.Unlock()
	}
}

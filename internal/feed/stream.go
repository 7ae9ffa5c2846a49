package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// PairEvent announces a newly listed pair seen on the stream.
type PairEvent struct {
	Address    token.Address `json:"address"`
	ChainID    string        `json:"chain_id"`
	Symbol     string        `json:"symbol"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Stream maintains a WebSocket subscription for new-pair announcements.
// Disconnects reconnect with capped exponential delay; events go out on a
// buffered channel with non-blocking sends.
type Stream struct {
	cfg config.FeedConfig

	mu   sync.RWMutex
	conn *websocket.Conn

	events chan PairEvent
	closed atomic.Bool

	messagesRecv atomic.Int64
	pairsSeen    atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

func NewStream(cfg config.FeedConfig) *Stream {
	return &Stream{
		cfg:    cfg,
		events: make(chan PairEvent, 256),
	}
}

// Start begins the connect/read loop in the background and returns the
// event channel. The channel closes when ctx is cancelled.
func (s *Stream) Start(ctx context.Context) <-chan PairEvent {
	go s.runLoop(ctx)
	return s.events
}

func (s *Stream) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("stream: runLoop panic recovered")
		}
		s.mu.Lock()
		if s.closed.CompareAndSwap(false, true) {
			close(s.events)
		}
		s.mu.Unlock()
	}()

	delay := time.Second
	const maxDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			log.Warn().Err(err).Msg("stream: connection failed")
			s.reconnects.Add(1)
			select {
			case <-time.After(delay):
				delay *= 2
				if delay > maxDelay {
					delay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		delay = time.Second

		s.readLoop(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	log.Info().Str("endpoint", s.cfg.WSEndpoint).Msg("stream: connected")
	return nil
}

func (s *Stream) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}

func (s *Stream) readLoop(ctx context.Context) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("stream: ping failed")
					return
				}
			}
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("stream: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("stream: read error, reconnecting")
			}
			s.connected.Store(false)
			return
		}

		s.messagesRecv.Add(1)
		s.handleMessage(message)
	}
}

func (s *Stream) handleMessage(data []byte) {
	var msg struct {
		Type string `json:"type"`
		Pair struct {
			Address string `json:"pairAddress"`
			ChainID string `json:"chainId"`
			Symbol  string `json:"baseSymbol"`
		} `json:"pair"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != "newPair" || msg.Pair.Address == "" {
		return
	}

	s.pairsSeen.Add(1)
	ev := PairEvent{
		Address:    token.Address(msg.Pair.Address),
		ChainID:    msg.Pair.ChainID,
		Symbol:     msg.Pair.Symbol,
		DetectedAt: time.Now(),
	}

	s.mu.RLock()
	if !s.closed.Load() {
		select {
		case s.events <- ev:
			log.Info().Str("pair", msg.Pair.Address).Str("symbol", msg.Pair.Symbol).
				Msg("stream: new pair detected")
		default:
			log.Warn().Msg("stream: event channel full, dropping pair")
		}
	}
	s.mu.RUnlock()
}

// StreamStats reports connection health counters.
type StreamStats struct {
	Connected    bool  `json:"connected"`
	MessagesRecv int64 `json:"messages_recv"`
	PairsSeen    int64 `json:"pairs_seen"`
	Reconnects   int64 `json:"reconnects"`
}

func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Connected:    s.connected.Load(),
		MessagesRecv: s.messagesRecv.Load(),
		PairsSeen:    s.pairsSeen.Load(),
		Reconnects:   s.reconnects.Load(),
	}
}

// Package cloudasr streams audio to a hosted recognition service over
// WebSocket. The wire protocol is JSON control/result frames interleaved
// with binary audio: a start frame negotiates the stream, the service
// answers ready, then partial and final result frames follow the audio.
package cloudasr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/provider"
)

type Config struct {
	URL   string
	Token string
	// HandshakeTimeout bounds the dial plus the ready frame.
	HandshakeTimeout time.Duration
}

type Provider struct {
	cfg Config
	log zerolog.Logger

	mu  sync.Mutex
	cur *stream

	writeMu sync.Mutex
}

// stream holds per-connection teardown state. A fresh one is allocated on
// every StartRealtime so close signaling is never reused across streams.
type stream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeChan chan struct{}
	readDone  chan struct{}
}

func New(cfg Config, log zerolog.Logger) *Provider {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Provider{
		cfg: cfg,
		log: log.With().Str("provider", "cloudasr").Logger(),
	}
}

func (p *Provider) Name() string { return "cloudasr" }

// frame is any JSON message on the wire, client or server side.
type frame struct {
	Type       string  `json:"type"`
	Language   string  `json:"language,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Text       string  `json:"text,omitempty"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
	Message    string  `json:"message,omitempty"`
	Fatal      bool    `json:"fatal,omitempty"`
}

// StartRealtime dials the service, negotiates the stream, and spawns the
// receive loop.
func (p *Provider) StartRealtime(ctx context.Context, cfg provider.StreamConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return errors.New("cloudasr: realtime stream already started")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if p.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("cloudasr: dial: %w", err)
	}

	start := frame{Type: "start", Language: cfg.Language, SampleRate: cfg.SampleRate}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return fmt.Errorf("cloudasr: start frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	var ready frame
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return fmt.Errorf("cloudasr: ready frame: %w", err)
	}
	if ready.Type == "error" {
		conn.Close()
		return fmt.Errorf("cloudasr: service rejected stream: %s", ready.Message)
	}
	if ready.Type != "ready" {
		conn.Close()
		return fmt.Errorf("cloudasr: unexpected handshake frame %q", ready.Type)
	}
	conn.SetReadDeadline(time.Time{})

	st := &stream{
		conn:      conn,
		closeChan: make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	p.cur = st
	go p.readLoop(st, cfg)
	return nil
}

func (p *Provider) readLoop(st *stream, cfg provider.StreamConfig) {
	defer close(st.readDone)

	for {
		var msg frame
		if err := st.conn.ReadJSON(&msg); err != nil {
			select {
			case <-st.closeChan:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			if cfg.OnError != nil {
				cfg.OnError(fmt.Errorf("cloudasr: connection lost: %w", err), true)
			}
			return
		}

		switch msg.Type {
		case "partial":
			if cfg.OnTranscript != nil {
				cfg.OnTranscript(msg.Text, false, msg.Start, msg.End)
			}
		case "final":
			if cfg.OnTranscript != nil {
				cfg.OnTranscript(msg.Text, true, msg.Start, msg.End)
			}
		case "error":
			if cfg.OnError != nil {
				cfg.OnError(fmt.Errorf("cloudasr: %s", msg.Message), msg.Fatal)
			}
			if msg.Fatal {
				return
			}
		default:
			p.log.Debug().Str("type", msg.Type).Msg("ignoring unknown frame")
		}
	}
}

// SendAudio forwards one chunk as a binary frame.
func (p *Provider) SendAudio(chunk []byte) error {
	p.mu.Lock()
	st := p.cur
	p.mu.Unlock()
	if st == nil {
		return errors.New("cloudasr: realtime stream not started")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := st.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("cloudasr: send audio: %w", err)
	}
	return nil
}

// StopRealtime sends the stop frame, waits for the service to flush its
// trailing finals and close, then tears the connection down.
func (p *Provider) StopRealtime(ctx context.Context) error {
	p.mu.Lock()
	st := p.cur
	p.cur = nil
	p.mu.Unlock()
	if st == nil {
		return nil
	}

	p.writeMu.Lock()
	stopErr := st.conn.WriteJSON(frame{Type: "stop"})
	p.writeMu.Unlock()

	if stopErr == nil {
		select {
		case <-st.readDone:
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
		}
	}

	st.closeOnce.Do(func() { close(st.closeChan) })
	st.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := st.conn.Close()
	<-st.readDone
	return err
}

func (p *Provider) TranscribeFile(ctx context.Context, audioPath string, opts provider.TranscribeOpts) (*provider.TranscriptResult, error) {
	return nil, provider.Unsupported("cloudasr", "transcribe-file")
}

// HealthCheck dials and immediately closes a connection.
func (p *Provider) HealthCheck(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if p.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("cloudasr unreachable: %w", err)
	}
	return conn.Close()
}

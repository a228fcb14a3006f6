package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"
)

type PtclConfig struct {
	Shard   string
	Url     string
	Reconn  time.Duration
	EmitOut func(*Message)
}

// Protocol speaks the hub's line protocol for one shard over a WebSocket.
type Protocol struct {
	ws      *WebSocket
	shard   string
	emitOut func(*Message)
}

func NewProtocol(ctx context.Context, cfg PtclConfig) (*Protocol, error) {
	if !isToken(cfg.Shard) {
		return nil, fmt.Errorf("invalid shard name %q", cfg.Shard)
	}

	ws, err := NewWebSocket(ctx, cfg.Url, cfg.Reconn)
	if err != nil {
		return nil, err
	}

	return &Protocol{
		shard:   cfg.Shard,
		ws:      ws,
		emitOut: cfg.EmitOut,
	}, nil
}

func (ptcl *Protocol) Shard() string { return ptcl.shard }

func (ptcl *Protocol) Transmit(m Message) error {
	m.From = ptcl.shard
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to send %q: %w", m.String(), err)
	}

	msg := m.String()
	if err := ptcl.ws.Write([]byte(msg)); err != nil {
		log.Error("Failed to transmit", "msg", msg, "err", err)
		return err
	}
	return nil
}

// Run reads frames until ctx is cancelled, reconnecting on close, and hands
// every frame addressed to this shard or to ALL to EmitOut.
func (ptcl *Protocol) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { ptcl.ws.Close() })
	defer stop()

	for {
		in := ptcl.ws.Read()
		if ctx.Err() != nil {
			return nil
		}

		switch in.kind {
		case CONN_CLOSE, READ_FAILURE:
			log.Warn("Hub connection lost", "url", ptcl.ws.url, "err", in.err)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			log.Info("Reconnected to hub", "url", ptcl.ws.url)

		case READ_OK:
			msg, err := Parse(string(in.msg))
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}
			if msg.To != ptcl.shard && msg.To != Broadcast || msg.From == ptcl.shard {
				continue
			}
			if ptcl.emitOut != nil {
				ptcl.emitOut(msg)
			}
		}
	}
}

func (ptcl *Protocol) Close() error {
	return ptcl.ws.Close()
}

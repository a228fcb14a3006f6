// Package hub connects the assistant to a message hub as a shard: it
// publishes voice and camera state and accepts remote commands.
package hub

import (
	"context"
	"errors"
	log "log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"voxsight/internal/camera"
	"voxsight/internal/ipc"
	"voxsight/internal/voice"
	"voxsight/pkg/protocol"
)

const DefaultShard = "VISION"

// Dispatcher executes a control command, the same vocabulary as the
// control socket.
type Dispatcher func(ctx context.Context, req ipc.Request) (any, error)

type Config struct {
	URL       string
	Shard     string
	Reconnect time.Duration
}

// routes maps VERB:NOUN to control commands.
var routes = map[string]string{
	"LISTEN:START":  "listen",
	"LISTEN:STOP":   "stop",
	"CAPTURE:NOW":   "capture",
	"MODE:SET":      "mode",
	"MODE:BACK":     "back",
	"CAMERA:START":  "camera-start",
	"CAMERA:STOP":   "camera-stop",
	"CAMERA:RETRY":  "camera-retry",
	"CAMERA:PERMIT": "camera-permit",
}

type Hub struct {
	ptcl     *protocol.Protocol
	dispatch Dispatcher
	out      chan protocol.Message
	ctx      context.Context

	mu         sync.Mutex
	lastVoice  []string
	lastCamera []string
}

func Dial(ctx context.Context, cfg Config, dispatch Dispatcher) (*Hub, error) {
	if cfg.Shard == "" {
		cfg.Shard = DefaultShard
	}

	h := &Hub{
		dispatch: dispatch,
		out:      make(chan protocol.Message, 32),
		ctx:      ctx,
	}

	ptcl, err := protocol.NewProtocol(ctx, protocol.PtclConfig{
		Shard:   cfg.Shard,
		Url:     cfg.URL,
		Reconn:  cfg.Reconnect,
		EmitOut: h.handle,
	})
	if err != nil {
		return nil, err
	}
	h.ptcl = ptcl

	log.Info("Connected to hub", "url", cfg.URL, "shard", cfg.Shard)
	return h, nil
}

// Run pumps both directions until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.writer(ctx)
	return h.ptcl.Run(ctx)
}

func (h *Hub) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.out:
			if err := h.ptcl.Transmit(m); err != nil {
				log.Warn("Hub publish failed", "msg", m.String(), "err", err)
			}
		}
	}
}

func (h *Hub) enqueue(m protocol.Message) {
	select {
	case h.out <- m:
	default:
		log.Warn("Hub queue full, dropping", "msg", m.String())
	}
}

func (h *Hub) VoiceChanged(s voice.Status) {
	args := []string{string(s.Phase), string(s.Mode)}

	h.mu.Lock()
	same := slices.Equal(args, h.lastVoice)
	h.lastVoice = args
	h.mu.Unlock()

	if !same {
		h.enqueue(stateMessage("VOICE", args))
	}
}

func (h *Hub) CameraChanged(s camera.Session) {
	args := []string{string(s.State)}
	if s.State == camera.StateFailed && s.ErrorKind != "" {
		args = append(args, string(s.ErrorKind))
	}

	h.mu.Lock()
	same := slices.Equal(args, h.lastCamera)
	h.lastCamera = args
	h.mu.Unlock()

	if !same {
		h.enqueue(stateMessage("CAMERA", args))
	}
}

// republish sends the last known states again.
func (h *Hub) republish() {
	h.mu.Lock()
	v, c := h.lastVoice, h.lastCamera
	h.mu.Unlock()

	if v != nil {
		h.enqueue(stateMessage("VOICE", v))
	}
	if c != nil {
		h.enqueue(stateMessage("CAMERA", c))
	}
}

func stateMessage(noun string, args []string) protocol.Message {
	tokens := make([]string, len(args))
	for i, a := range args {
		tokens[i] = protocol.Token(a)
	}
	return protocol.Message{To: protocol.Broadcast, Verb: "STATE", Noun: noun, Args: tokens}
}

func (h *Hub) handle(msg *protocol.Message) {
	reply := msg.Reply()
	key := msg.Verb + ":" + msg.Noun

	if key == "STATUS:GET" {
		h.republish()
		reply.Ok(msg.Verb, msg.Noun)
		h.enqueue(*reply)
		return
	}

	cmd, ok := routes[key]
	if !ok {
		if msg.Verb == "OK" || msg.Verb == "ERR" || msg.Verb == "STATE" {
			return
		}
		log.Warn("Unknown hub command", "verb", msg.Verb, "noun", msg.Noun, "from", msg.From)
		reply.Error("UNKNOWN", msg.Verb, msg.Noun)
		h.enqueue(*reply)
		return
	}

	req := ipc.Request{Cmd: cmd, Text: strings.ToLower(msg.Arg(0))}
	log.Info("Hub command", "cmd", req.Cmd, "from", msg.From)

	go func() {
		if _, err := h.dispatch(h.ctx, req); err != nil {
			reply.Error(msg.Verb, protocol.Token(reason(err)))
		} else {
			reply.Ok(msg.Verb, msg.Noun)
		}
		h.enqueue(*reply)
	}()
}

func reason(err error) string {
	var cerr *camera.Error
	if errors.As(err, &cerr) {
		return string(cerr.Kind)
	}
	return "FAILED"
}

func (h *Hub) Close() error {
	return h.ptcl.Close()
}

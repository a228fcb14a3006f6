package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	msg, err := Parse("VISION:mode:set:object:BRAIN")
	require.NoError(t, err)
	assert.Equal(t, &Message{To: "VISION", Verb: "MODE", Noun: "SET", Args: []string{"object"}, From: "BRAIN"}, msg)
	assert.Equal(t, "object", msg.Arg(0))
	assert.Empty(t, msg.Arg(1))

	msg, err = Parse("ALL:STATE:CAMERA:failed:permission_denied:VISION")
	require.NoError(t, err)
	assert.Equal(t, "ALL:STATE:CAMERA:failed:permission_denied:VISION", msg.String())

	for _, bad := range []string{"", "A:B:C", "VISION:SAY:hello world:BRAIN", "VI SION:X:Y:Z", "VISION:X:Y:a/b:Z"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestReplyHelpers(t *testing.T) {
	t.Parallel()

	in := &Message{To: "VISION", Verb: "LISTEN", Noun: "START", From: "BRAIN"}
	r := in.Reply()
	r.Ok(in.Verb, in.Noun)
	r.From = "VISION"
	assert.Equal(t, "BRAIN:OK:LISTEN:START:VISION", r.String())

	r.Error("UNKNOWN", "DANCE")
	assert.Equal(t, "BRAIN:ERR:UNKNOWN:DANCE:VISION", r.String())
	assert.NoError(t, r.Validate())
}

func TestToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "permission_denied", Token("permission_denied"))
	assert.Equal(t, "ideal_1280x720", Token("ideal 1280x720"))
	assert.Equal(t, "_", Token(""))
}

// hubServer accepts one shard connection and relays frames through channels.
func hubServer(t *testing.T) (string, chan string, chan string) {
	t.Helper()

	fromShard := make(chan string, 16)
	toShard := make(chan string, 16)
	up := ws.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for line := range toShard {
				if conn.WriteMessage(ws.TextMessage, []byte(line)) != nil {
					return
				}
			}
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fromShard <- string(msg)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), fromShard, toShard
}

func TestProtocolRoundTrip(t *testing.T) {
	t.Parallel()

	url, fromShard, toShard := hubServer(t)

	got := make(chan *Message, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ptcl, err := NewProtocol(ctx, PtclConfig{Shard: "VISION", Url: url, EmitOut: func(m *Message) { got <- m }})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ptcl.Run(ctx) }()

	require.NoError(t, ptcl.Transmit(Message{To: Broadcast, Verb: "STATE", Noun: "VOICE", Args: []string{"idle", "home"}}))
	select {
	case line := <-fromShard:
		assert.Equal(t, "ALL:STATE:VOICE:idle:home:VISION", line)
	case <-time.After(2 * time.Second):
		t.Fatal("hub got nothing")
	}

	assert.Error(t, ptcl.Transmit(Message{To: Broadcast, Verb: "SAY", Noun: "TEXT", Args: []string{"two words"}}))

	toShard <- "OTHER:LISTEN:START:BRAIN"
	toShard <- "garbage"
	toShard <- "VISION:LISTEN:START:BRAIN"
	select {
	case m := <-got:
		assert.Equal(t, "LISTEN", m.Verb)
		assert.Equal(t, "START", m.Noun)
		assert.Equal(t, "BRAIN", m.From)
	case <-time.After(2 * time.Second):
		t.Fatal("shard got nothing")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	close(toShard)
}

package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, maxHex int) (*Hub, string) {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingInterval:    time.Second,
		PongTimeout:     5 * time.Second,
		WriteTimeout:    time.Second,
	}, maxHex, zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "bench")
	}))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeConnected, msg.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func readTransfer(t *testing.T, conn *websocket.Conn) *TransferEvent {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeTransfer, msg.Type)
	var ev TransferEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	return &ev
}

func TestHubBroadcastTransfer(t *testing.T) {
	hub, url := newTestHub(t, 4)
	conn := dial(t, url)
	assert.Equal(t, 1, hub.GetOnlineCount())

	hub.OnTransfer(&arcom.Transfer{
		Direction: arcom.DirectionSend,
		Port:      "COM3",
		Tags:      "uint16x2",
		Segments:  1,
		Bytes:     4,
		Data:      []byte{0x05, 0x00, 0x05, 0x00},
		Values:    [][]int64{{5, 5}},
		Duration:  2 * time.Millisecond,
		RequestID: "req-1",
		Time:      time.Now(),
	})

	ev := readTransfer(t, conn)
	assert.Equal(t, "SEND", ev.Direction)
	assert.Equal(t, "COM3", ev.Port)
	assert.Equal(t, "05000500", ev.Hex)
	assert.False(t, ev.Truncated)
	assert.Equal(t, [][]int64{{5, 5}}, ev.Values)
	assert.Equal(t, int64(2), ev.Duration)
	assert.Equal(t, "req-1", ev.RequestID)

	hub.OnTransfer(&arcom.Transfer{
		Direction: arcom.DirectionReceive,
		Port:      "COM3",
		Tags:      "uint32x2",
		Bytes:     6,
		Data:      []byte{0xf4, 0x01, 0, 0, 0xf4, 0x01},
		Err:       apperrors.Wrap(arcom.ErrTimeout, apperrors.ErrSerialTimeout),
	})

	ev = readTransfer(t, conn)
	assert.Equal(t, "f4010000", ev.Hex)
	assert.True(t, ev.Truncated)
	assert.Nil(t, ev.Values)
	assert.Equal(t, int(apperrors.ErrSerialTimeout), ev.ErrorCode)
	assert.NotEmpty(t, ev.Error)
}

func TestHubSubscribe(t *testing.T) {
	hub, url := newTestHub(t, 0)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": MessageTypeSubscribe,
		"data": map[string]string{"port": "COM4", "direction": "receive"},
	}))
	ack := readMessage(t, conn)
	require.Equal(t, MessageTypeSubscribe, ack.Type)
	var sub Subscription
	require.NoError(t, json.Unmarshal(ack.Data, &sub))
	assert.Equal(t, Subscription{Port: "COM4", Direction: "RECEIVE"}, sub)

	hub.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionReceive, Port: "COM3", Tags: "uint8x1"})
	hub.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionSend, Port: "COM4", Tags: "uint8x2"})
	hub.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionReceive, Port: "COM4", Tags: "uint8x3"})

	ev := readTransfer(t, conn)
	assert.Equal(t, "uint8x3", ev.Tags)
}

func TestHubQuerySubscription(t *testing.T) {
	hub, url := newTestHub(t, 0)
	conn := dial(t, url+"?port=COM5&direction=send")

	hub.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionReceive, Port: "COM5", Tags: "int8x1"})
	hub.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionSend, Port: "COM5", Tags: "int8x2"})

	ev := readTransfer(t, conn)
	assert.Equal(t, "int8x2", ev.Tags)
}

func TestHubControlMessages(t *testing.T) {
	hub, url := newTestHub(t, 0)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeStatus}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	hub.SetStatusProvider(func() interface{} { return map[string]bool{"connected": true} })
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeStatus}))
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeStatus, msg.Type)
	assert.JSONEq(t, `{"connected":true}`, string(msg.Data))

	// 不支持的类型返回错误但保持连接
	require.NoError(t, conn.WriteJSON(Message{Type: "spin"}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestHubStop(t *testing.T) {
	hub, url := newTestHub(t, 0)
	conn := dial(t, url)

	hub.Stop()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// 停止后不再阻塞
	hub.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionSend, Port: "COM3"})
	assert.Eventually(t, func() bool { return hub.GetOnlineCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubSendToUnknownClient(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, 0, zap.NewNop())
	assert.ErrorIs(t, hub.SendToClient("nope", MessageTypePing, nil), ErrClientNotFound)
	assert.Equal(t, 54*time.Second, hub.cfg.PingInterval)
}

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"nhooyr.io/websocket"
)

// readLimit bounds a single WebSocket message. Each stream Write is one message,
// and a JSON-RPC frame is written in at most two writes (header and body).
const readLimit = 4 << 20

// DialWebSocket opens a byte stream to a worker listening for sessions over WebSocket.
// ctx only bounds the handshake; the returned stream lives until it is closed.
func DialWebSocket(ctx context.Context, url string, httpClient *http.Client) (io.ReadWriteCloser, error) {
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      httpClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn to %s: %w", url, err)
	}
	wsConn.SetReadLimit(readLimit)
	return websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary), nil
}

// AcceptWebSocket upgrades an HTTP request to a byte stream.
// The stream is bound to the request context, so the handler must not return until the stream is done.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request) (io.ReadWriteCloser, error) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("accepting WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(readLimit)
	return websocket.NetConn(r.Context(), wsConn, websocket.MessageBinary), nil
}

package audio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	ws "github.com/coder/websocket"
)

const levelPushInterval = 50 * time.Millisecond

// StreamHandler upgrades to a WebSocket, reads binary frames of little-endian
// float32 PCM and pushes {"level": x} text frames back to the client.
// Browsers may connect from the same origin or from baseURL's host.
func StreamHandler(baseURL string, logger *slog.Logger) http.HandlerFunc {
	opts := &ws.AcceptOptions{OriginPatterns: originPatterns(baseURL)}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, opts)
		if err != nil {
			logger.Warn("audio stream: accept", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ring := NewRing(DefaultWindow)
		var m Monitor
		if err := m.Start(ctx, ring); err != nil {
			conn.Close(ws.StatusInternalError, "monitor start failed")
			return
		}
		defer m.Stop()

		go pushLevels(ctx, conn, &m)

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != ws.MessageBinary {
				continue
			}
			if err := ring.WritePCM(data); err != nil {
				conn.Close(ws.StatusUnsupportedData, err.Error())
				return
			}
		}
	}
}

func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func pushLevels(ctx context.Context, conn *ws.Conn, m *Monitor) {
	ticker := time.NewTicker(levelPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, _ := json.Marshal(map[string]float64{"level": m.CurrentLevel()})
			writeCtx, cancel := context.WithTimeout(ctx, time.Second)
			err := conn.Write(writeCtx, ws.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

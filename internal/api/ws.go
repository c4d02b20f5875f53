package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"videoscope/internal/models"
	"videoscope/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser frontend is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPollTimeout  = time.Second
)

// progressSocket streams job progress to a client. On connect it sends the
// current job snapshot, then forwards pub/sub events until the client goes
// away. A heartbeat goroutine keeps intermediaries from timing out idle
// connections; both loops tear down together.
func (h *Handler) progressSocket(c *gin.Context) {
	sessionID := c.Param("session_id")

	stream, err := h.progress.Subscribe(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		stream.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sock := &progressConn{conn: conn}
	var wg sync.WaitGroup

	defer func() {
		cancel()
		stream.Close()
		conn.Close()
		wg.Wait()
	}()

	if err := h.sendSnapshot(ctx, sock, sessionID); err != nil {
		return
	}

	// Client never sends application frames; the read loop exists to notice
	// disconnects and close frames.
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.heartbeat(ctx, sock, sessionID)
	}()

	for {
		payload, ok, err := stream.Next(ctx, wsPollTimeout)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("ws %s: stream error: %v", sessionID, err)
			}
			return
		}
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err := sock.write(payload); err != nil {
			return
		}
	}
}

// sendSnapshot pushes the job's current state so late subscribers do not
// wait for the next event. Unknown jobs get no snapshot frame.
func (h *Handler) sendSnapshot(ctx context.Context, sock *progressConn, sessionID string) error {
	job, err := h.progress.GetJob(ctx, sessionID)
	if err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			return nil
		}
		return err
	}
	frame := map[string]interface{}{
		"type":   models.EventSnapshot,
		"pct":    job.Percent,
		"msg":    job.Message,
		"status": job.Status,
	}
	if job.Result != "" {
		frame["result"] = job.Result
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return sock.write(payload)
}

func (h *Handler) heartbeat(ctx context.Context, sock *progressConn, sessionID string) {
	ping, err := json.Marshal(map[string]string{"type": models.EventPing})
	if err != nil {
		return
	}
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.write(ping); err != nil {
				return
			}
		}
	}
}

// progressConn serializes writes from the forward loop and the heartbeat.
type progressConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *progressConn) write(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

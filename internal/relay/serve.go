package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ankith2004ahms/video-calling/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The CLI client sends no Origin header; browser origins are not pinned.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the HTTP surface: the websocket endpoint plus a health check.
func Router(hub *Hub, log zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("signaling server is healthy"))
	})

	r.Get("/ws", serveWs(hub, log))

	return r
}

// serveWs upgrades the connection, assigns it an opaque handle and hands it
// to the hub. The handle is the routing address for every later frame; the
// client learns it from the joined-room reply.
func serveWs(hub *Hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		handle := uuid.NewString()
		c := &client{
			hub:    hub,
			conn:   conn,
			handle: handle,
			send:   make(chan *signaling.Message, sendQueueSize),
			log:    log.With().Str("handle", handle).Logger(),
		}

		select {
		case hub.register <- c:
		case <-hub.quit:
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

package docserver

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/version"
)

// Routes builds the document server's HTTP handler.
func Routes(hub *Hub, allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	mux := httprouter.New()
	mux.GET("/ws", serveWs(hub, &upgrader))
	mux.GET("/healthz", serveHealthCheck)
	mux.GET("/version", serveVersion)

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// serveWs upgrades the request and starts the connection's pumps.
func serveWs(hub *Hub, upgrader *websocket.Upgrader) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("failed to upgrade connection")
			return
		}

		c := newConn(hub, ws)
		select {
		case hub.register <- c:
		case <-hub.stopped:
			ws.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

func serveHealthCheck(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Document server is healthy.\n"))
}

func serveVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("findit " + version.Version + "\n"))
}

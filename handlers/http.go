package handlers

import (
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/pbnjay/memory"

	"github.com/vault-app/vault-hub/auth"
	"github.com/vault-app/vault-hub/hub"
)

var pingTemplate = template.Must(template.New("ping").Parse(`<!DOCTYPE html>
<html>
<head><title>vault-hub</title></head>
<body>
<h1>vault-hub</h1>
<table>
<tr><td>PID</td><td>{{.PID}}</td></tr>
<tr><td>Host</td><td>{{.HostName}}</td></tr>
<tr><td>Uptime</td><td>{{.UpTime}}s</td></tr>
<tr><td>Free Memory</td><td>{{.FreeMem}}</td></tr>
<tr><td>Connections</td><td>{{.Connections}}</td></tr>
</table>
</body>
</html>
`))

// ConnectionCounter reports how many connections are live
type ConnectionCounter interface {
	Count() int
}

type pingPayload struct {
	PID         int64
	HostName    string
	UpTime      int64
	FreeMem     int64
	Connections int
}

// Ping renders a small status page, it doesn't need authentication
func Ping(startTime time.Time, connections ConnectionCounter, w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Error("error reading hostname")
	}

	data := &pingPayload{
		PID:         int64(os.Getpid()),
		HostName:    hostname,
		UpTime:      int64(time.Since(startTime).Seconds()),
		FreeMem:     int64(memory.FreeMemory()),
		Connections: connections.Count(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pingTemplate.Execute(w, data); err != nil {
		log.WithError(err).Error("error rendering ping page")
	}
}

// Mount wires the websocket endpoint, the status page and the authenticated REST routes
func Mount(router chi.Router, binder *auth.Binder, h *hub.Hub, s Store, startTime time.Time) {
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		Ping(startTime, h.Registry(), w, r)
	})
	router.Get("/ws", h.ServeWS)

	router.Route("/api", func(api chi.Router) {
		api.Use(binder.Middleware)

		api.Get("/chat/messages/{friendId}", func(w http.ResponseWriter, r *http.Request) {
			ChatHistory(s, w, r)
		})
		api.Post("/chat/send", func(w http.ResponseWriter, r *http.Request) {
			ChatSend(h, w, r)
		})
		api.Post("/location/update", func(w http.ResponseWriter, r *http.Request) {
			LocationUpdate(h, w, r)
		})
		api.Get("/location/partner", func(w http.ResponseWriter, r *http.Request) {
			PartnerLocation(s, w, r)
		})
		api.Post("/safety/trigger", func(w http.ResponseWriter, r *http.Request) {
			SafetyTrigger(h, w, r)
		})
	})
}

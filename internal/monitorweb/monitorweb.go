// Package monitorweb implements the --monitor "browsable progress"
// surface from spec.md §6: an HTTP server that pushes tree-snapshot JSON
// frames over a WebSocket to any connected browser, advertised via mDNS
// and printed as a scannable QR code — adapted from the teacher's
// internal/webserver session-streaming pattern (ws_handler.go) and its
// internal/cli/web.go mDNS/QR pairing flow. The URL it returns,
// advertises and encodes always names localhost, so it only opens on the
// machine running the search.
package monitorweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/hashicorp/mdns"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/agusx1211/halfreduce/internal/driver"
	"github.com/agusx1211/halfreduce/internal/obslog"
)

const serviceType = "_halfreduce._tcp"

// Server is the --monitor HTTP+WebSocket endpoint. Construct with New,
// call Publish on every driver.Snapshot, Close when the search ends.
type Server struct {
	httpSrv *http.Server
	mdnsSrv *mdns.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	last    driver.Snapshot
}

// New starts listening on addr (e.g. "127.0.0.1:0" for an ephemeral
// port), returning the Server and the URL a browser should open.
func New(ctx context.Context, addr string, advertiseMDNS bool) (*Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("monitorweb: listen: %w", err)
	}

	s := &Server{clients: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			obslog.Warn("monitorweb", "server exited", "err", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	host := "localhost"
	url := fmt.Sprintf("http://%s:%d/", host, port)

	if advertiseMDNS {
		if srv, err := advertise(port, url); err != nil {
			obslog.Warn("monitorweb", "mdns advertise failed", "err", err)
		} else {
			s.mdnsSrv = srv
		}
	}

	return s, url, nil
}

// PrintQRCode writes a terminal QR code for url to stdout (spec §2's
// go-qrcode wiring).
func PrintQRCode(url string) error {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("monitorweb: build qrcode: %w", err)
	}
	fmt.Println(code.ToString(false))
	return nil
}

func advertise(port int, url string) (*mdns.Server, error) {
	service, err := mdns.NewMDNSService("halfreduce", serviceType, "local", "", port, nil,
		[]string{fmt.Sprintf("url=%s", url)})
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

// Publish fans s out to every connected browser as a JSON frame. Safe to
// call from the driver's OnSnapshot hook directly.
func (s *Server) Publish(snap driver.Snapshot) {
	s.mu.Lock()
	s.last = snap
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
		}
	}
}

// Close shuts down the HTTP server, mDNS advertisement, and every open
// WebSocket connection.
func (s *Server) Close() {
	if s.mdnsSrv != nil {
		s.mdnsSrv.Shutdown()
	}
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.clients = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.StatusNormalClosure, "search ended")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[ws] = struct{}{}
	last := s.last
	s.mu.Unlock()

	ctx := r.Context()
	if data, err := json.Marshal(last); err == nil {
		_ = ws.Write(ctx, websocket.MessageText, data)
	}

	// Drain reads so the client's close frames are observed; this handler
	// does not accept input from the browser.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			break
		}
	}
	s.mu.Lock()
	delete(s.clients, ws)
	s.mu.Unlock()
	ws.Close(websocket.StatusNormalClosure, "done")
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>halfreduce</title></head>
<body style="font-family:monospace;background:#111;color:#ddd">
<h1>halfreduce</h1>
<pre id="out">connecting...</pre>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const s = JSON.parse(ev.data);
  document.getElementById("out").textContent = JSON.stringify(s, null, 2);
};
</script>
</body></html>`

package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gorilla/websocket"
)

type serverOptions struct {
	bearer string
}

type ServerOption func(*serverOptions)

// WithBearerToken replaces the caller's Authorization header with token.
func WithBearerToken(token string) ServerOption {
	return func(o *serverOptions) {
		o.bearer = token
	}
}

func NewReverseServer(u *url.URL, opts ...ServerOption) http.Handler {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	urlForHttp := *u
	proxy := httputil.NewSingleHostReverseProxy(&urlForHttp)
	// chat answers are streamed as server sent events
	proxy.FlushInterval = -1
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = urlForHttp.Host
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del("Authorization")
		if o.bearer != "" {
			r.Header.Set("Authorization", "Bearer "+o.bearer)
		}

		if r.Header.Get("Upgrade") != "websocket" {
			proxy.ServeHTTP(w, r)
			return
		}

		// switch to websocket
		urlForWs := *r.URL
		switch u.Scheme {
		case "https":
			urlForWs.Scheme = "wss"
		default:
			urlForWs.Scheme = "ws"
		}
		urlForWs.Host = u.Host
		urlForWs.Path = singleJoiningSlash(u.Path, r.URL.Path)

		// clear up header
		header := http.Header{}
		for k, v := range r.Header {
			header[k] = v
		}
		for _, h := range []string{"Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version", "Sec-Websocket-Extensions"} {
			header.Del(h)
		}

		proxyConn, resp, err := websocket.DefaultDialer.Dial(urlForWs.String(), header)
		if err != nil {
			err = fmt.Errorf("dial proxy websocket: %w", err)
			log.Error(err)
			if resp != nil {
				log.Errorf("upstream answered %s", resp.Status)
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer func() {
			if err := proxyConn.Close(); err != nil {
				log.Errorf("close proxyConn: %v", err)
			}
		}()

		upgrader := websocket.Upgrader{}
		clientConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("upgrade websocket: %v", err)
			return
		}
		defer func() {
			if err := clientConn.Close(); err != nil {
				log.Errorf("close clientConn: %v", err)
			}
		}()

		done := make(chan struct{}, 2)
		go forwardMessages(done, proxyConn, clientConn)
		go forwardMessages(done, clientConn, proxyConn)
		<-done
	})
}

func singleJoiningSlash(a, b string) string {
	switch {
	case a == "":
		return b
	case a[len(a)-1] == '/' && len(b) > 0 && b[0] == '/':
		return a + b[1:]
	case a[len(a)-1] != '/' && (len(b) == 0 || b[0] != '/'):
		return a + "/" + b
	}
	return a + b
}

// forwardMessages copies src to dst until either side fails.
func forwardMessages(done chan<- struct{}, src *websocket.Conn, dst *websocket.Conn) {
	defer func() { done <- struct{}{} }()
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			log.Debugf("read message from %s: %v", src.RemoteAddr().String(), err)
			return
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			log.Debugf("write message to %s: %v", dst.RemoteAddr().String(), err)
			return
		}
	}
}

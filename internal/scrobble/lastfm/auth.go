package lastfm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// authCallbackPort is the port used for the local auth callback server.
const authCallbackPort = 9847

// Session is the result of a completed desktop authorization.
type Session struct {
	Username   string
	SessionKey string
}

// Authorize runs the desktop auth flow: request a token, send the user to
// Last.fm in their browser, wait for the callback, then exchange the
// authorized token for a session key. Blocks until the user authorizes or
// ctx expires.
func (b *Backend) Authorize(ctx context.Context) (*Session, error) {
	token, err := b.api.GetToken()
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	srv, err := startCallbackServer()
	if err != nil {
		return nil, err
	}
	defer srv.shutdown()

	url := fmt.Sprintf(
		"https://www.last.fm/api/auth/?api_key=%s&token=%s&cb=http://localhost:%d/callback",
		b.apiKey, token, authCallbackPort,
	)
	if err := openBrowser(url); err != nil {
		fmt.Printf("Open this URL in your browser to authorize:\n\n  %s\n\n", url)
	}

	select {
	case <-srv.authorized:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := b.api.LoginWithToken(token); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	b.sessionKey = b.api.GetSessionKey()

	username := "unknown"
	if info, err := b.api.User.GetInfo(nil); err == nil {
		username = info.Name
	}
	return &Session{Username: username, SessionKey: b.sessionKey}, nil
}

type callbackServer struct {
	server     *http.Server
	authorized chan struct{}
	done       chan struct{}
}

func startCallbackServer() (*callbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", authCallbackPort))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", authCallbackPort, err)
	}

	cs := &callbackServer{
		authorized: make(chan struct{}),
		done:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>scrobbled - Last.fm Authorization</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Authorization Successful</h1>
<p>You can close this window and return to your terminal.</p>
</body>
</html>`)
		select {
		case <-cs.authorized:
		default:
			close(cs.authorized)
		}
	})

	cs.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		_ = cs.server.Serve(listener)
		close(cs.done)
	}()
	return cs, nil
}

func (cs *callbackServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cs.server.Shutdown(ctx)
	<-cs.done
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

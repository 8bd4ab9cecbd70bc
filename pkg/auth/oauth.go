package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/damian-sirenko/signq/pkg/logger"
)

const (
	// LocalhostAuthPort is where the local server waits for the OAuth redirect.
	LocalhostAuthPort = "6789"
	authTimeout       = 5 * time.Minute
)

// Paths locates the downloaded client secrets and the cached token.
type Paths struct {
	Credentials string
	Token       string
}

var scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// GetConfig creates an oauth2.Config from the client secrets file. Localhost
// and out-of-band redirects are pinned to LocalhostAuthPort.
func GetConfig(credentials string, scopes []string, log logger.Logger) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentials)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", credentials, err)
	}
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	if config.RedirectURL == "urn:ietf:wg:oauth:2.0:oob" {
		config.RedirectURL = fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		log.Debug("overriding out-of-band redirect", "redirect", config.RedirectURL)
		return config, nil
	}
	parsed, err := url.Parse(config.RedirectURL)
	if err != nil {
		log.Warn("could not parse redirect url, using it as is", "redirect", config.RedirectURL, "err", err)
		return config, nil
	}
	if parsed.Hostname() != "localhost" && parsed.Hostname() != "127.0.0.1" {
		log.Warn("redirect url is not a localhost callback", "redirect", config.RedirectURL)
		return config, nil
	}
	if parsed.Port() != LocalhostAuthPort {
		if parsed.Port() != "" {
			log.Warn("forcing redirect port", "configured", parsed.Port(), "port", LocalhostAuthPort)
		}
		parsed.Host = net.JoinHostPort(parsed.Hostname(), LocalhostAuthPort)
		config.RedirectURL = parsed.String()
	}
	return config, nil
}

// GetClient returns an authenticated client. It reuses the cached token or
// runs the browser flow when there is none.
func GetClient(ctx context.Context, paths Paths, scopes []string, log logger.Logger) (*http.Client, error) {
	config, err := GetConfig(paths.Credentials, scopes, log)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(paths.Token)
	if err != nil {
		log.Info("no cached token, starting web authorization", "token", paths.Token)
		tok, err = getTokenFromWeb(ctx, config, log)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(paths.Token, tok); err != nil {
			return nil, err
		}
	}

	src := config.TokenSource(ctx, tok)
	current, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if current.AccessToken != tok.AccessToken || current.RefreshToken != tok.RefreshToken {
		log.Debug("token refreshed, saving", "token", paths.Token)
		if err := saveToken(paths.Token, current); err != nil {
			log.Warn("could not save refreshed token", "err", err)
		}
	}
	return oauth2.NewClient(ctx, src), nil
}

// callback receives the browser redirect and hands over the authorization
// code once. Redirects carrying a different state are refused.
type callback struct {
	state string
	once  sync.Once
	code  chan string
	err   chan error
}

func newCallback(state string) *callback {
	return &callback{state: state, code: make(chan string, 1), err: make(chan error, 1)}
}

func (cb *callback) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", cb.handle)
	return r
}

func (cb *callback) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != cb.state {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}
	if e := q.Get("error"); e != "" {
		http.Error(w, "Authorization denied", http.StatusForbidden)
		cb.once.Do(func() { cb.err <- fmt.Errorf("authorization denied: %s", e) })
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "Authorization code not found", http.StatusBadRequest)
		return
	}
	fmt.Fprint(w, "Authentication successful! You can close this window.")
	cb.once.Do(func() { cb.code <- code })
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func getTokenFromWeb(ctx context.Context, config *oauth2.Config, log logger.Logger) (*oauth2.Token, error) {
	state, err := newState()
	if err != nil {
		return nil, fmt.Errorf("failed to create state token: %w", err)
	}
	cb := newCallback(state)

	listener, err := net.Listen("tcp", ":"+LocalhostAuthPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	server := &http.Server{
		Handler:      cb.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case cb.err <- fmt.Errorf("callback server: %w", err):
			default:
			}
		}
	}()
	defer server.Shutdown(context.WithoutCancel(ctx))

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Open the following URL in your browser to authorize signq:\n%s\n", authURL)
	log.Info("waiting for authorization code", "redirect", config.RedirectURL)

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	select {
	case code := <-cb.code:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-cb.err:
		return nil, err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New("authorization timed out, please try again")
		}
		return nil, ctx.Err()
	}
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// ResetToken removes the cached token so the next login starts over.
func ResetToken(paths Paths) error {
	if err := os.Remove(paths.Token); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not delete token file %s: %w", paths.Token, err)
	}
	return nil
}

// GetCalendarService creates an authenticated Google Calendar service.
func GetCalendarService(ctx context.Context, paths Paths, log logger.Logger) (*calendar.Service, error) {
	client, err := GetClient(ctx, paths, scopes, log)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client for Calendar API: %w", err)
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google Calendar service: %w", err)
	}
	return srv, nil
}

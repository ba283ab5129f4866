package gphotos

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"

	"github.com/gphotos2immich/gphotos2immich/lib/random"
)

// googleEndpoint is the default OAuth2 endpoint, used when the client
// secret file doesn't carry its own URIs.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

const (
	// Scope for reading the user's library and albums
	scopeReadOnly = "https://www.googleapis.com/auth/photoslibrary.readonly"

	// bindAddress is the address the local redirect server binds to
	// during the first-time authorization flow
	bindAddress = "127.0.0.1:53682"
)

// clientSecretJS is the layout of a client secret file downloaded from
// the Google API console for an installed application.
type clientSecretJS struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

// LoadClientSecret reads a client secret file and returns an OAuth2
// config for the read-only Library API scope.
func LoadClientSecret(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read client secret file: %w", err)
	}
	var js clientSecretJS
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("couldn't parse client secret file %q: %w", path, err)
	}
	if js.Installed.ClientID == "" {
		return nil, fmt.Errorf("client secret file %q has no installed.client_id", path)
	}
	config := &oauth2.Config{
		ClientID:     js.Installed.ClientID,
		ClientSecret: js.Installed.ClientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       []string{scopeReadOnly},
		RedirectURL:  "http://" + bindAddress + "/",
	}
	if js.Installed.AuthURI != "" {
		config.Endpoint.AuthURL = js.Installed.AuthURI
	}
	if js.Installed.TokenURI != "" {
		config.Endpoint.TokenURL = js.Installed.TokenURI
	}
	return config, nil
}

// LoadToken reads a previously saved token
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("couldn't parse token file %q: %w", path, err)
	}
	return &token, nil
}

// SaveToken writes the token for later runs.  The file is created
// user-readable only as it contains the refresh token.
func SaveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("couldn't write token file %q: %w", path, err)
	}
	return nil
}

// authResult is the result of the redirect from the provider
type authResult struct {
	code  string
	state string
	err   error
}

// authServer is a local webserver catching the OAuth redirect
type authServer struct {
	listener net.Listener
	server   *http.Server
	result   chan authResult
}

func newAuthServer() (*authServer, error) {
	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to start auth webserver on %s: %w", bindAddress, err)
	}
	s := &authServer{
		listener: listener,
		result:   make(chan authResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleAuth)
	s.server = &http.Server{Handler: mux}
	go func() {
		_ = s.server.Serve(s.listener)
	}()
	return s, nil
}

func (s *authServer) handleAuth(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	code := query.Get("code")
	if code == "" {
		reason := query.Get("error")
		if reason == "" {
			reason = "no code returned by remote server"
		}
		http.Error(w, "Authorization failed: "+reason, http.StatusBadRequest)
		s.result <- authResult{err: fmt.Errorf("authorization failed: %s", reason)}
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, "<html><body><h1>Success!</h1><p>Go back to your terminal, this window can be closed.</p></body></html>")
	s.result <- authResult{code: code, state: query.Get("state")}
}

func (s *authServer) Close() {
	_ = s.server.Close()
}

// Authorize runs the first-time authorization flow.
//
// It opens the provider's consent page in the browser, catches the
// redirect on a loopback webserver and exchanges the authorization
// code (with PKCE) for a token.
func Authorize(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	state, err := random.Password(128)
	if err != nil {
		return nil, fmt.Errorf("failed to create state token: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	server, err := newAuthServer()
	if err != nil {
		return nil, err
	}
	defer server.Close()

	authURL := config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	if err := open.Start(authURL); err != nil {
		logrus.Warnf("Failed to open browser automatically: %v", err)
	}
	fmt.Printf("If your browser doesn't open automatically go to the following link:\n%s\n", authURL)
	fmt.Printf("Waiting for code...\n")

	var res authResult
	select {
	case res = <-server.result:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.state != state {
		return nil, fmt.Errorf("state returned by remote server doesn't match: expected %q got %q", state, res.state)
	}
	token, err := config.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// Connect makes an authorized Client.
//
// It loads the token from tokenFile, running the first-time
// authorization flow if there is no usable token yet, and saves the
// token for later runs.
func Connect(ctx context.Context, clientSecretFile, tokenFile string) (*Client, error) {
	config, err := LoadClientSecret(clientSecretFile)
	if err != nil {
		return nil, err
	}
	token, err := LoadToken(tokenFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		logrus.Infof("No token found in %q, starting authorization flow", tokenFile)
		token, err = Authorize(ctx, config)
		if err != nil {
			return nil, err
		}
		if err := SaveToken(tokenFile, token); err != nil {
			return nil, err
		}
	}
	return NewClient(config, token, tokenFile), nil
}

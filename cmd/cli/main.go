// Command fgate is a CLI client for the face gate service.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "facegate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "facegate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (identify required)")
	}
	return tf.AccessToken, nil
}

// ---- http client ----

type apiClient struct {
	base       string
	adminToken string
	httpc      *http.Client
}

func newAPIClient(base, adminToken string, timeout time.Duration) *apiClient {
	return &apiClient{
		base:       strings.TrimRight(base, "/"),
		adminToken: adminToken,
		httpc:      &http.Client{Timeout: timeout},
	}
}

// do sends one request and decodes the JSON response into out (when non-nil).
// Non-2xx responses surface as errors carrying the server's error field.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if out != nil && len(raw) > 0 {
			// locked/unauthorized responses still carry lock metadata
			_ = json.Unmarshal(raw, out)
		}
		if e.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type identifyResult struct {
	UserID             string  `json:"user_id"`
	Recognized         bool    `json:"recognized"`
	Confidence         float64 `json:"confidence"`
	AccessToken        string  `json:"access_token,omitempty"`
	Locked             bool    `json:"locked"`
	RemainingAttempts  int     `json:"remaining_attempts"`
	MinutesUntilExpiry int     `json:"minutes_until_expiry,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func captureBody(userID, file string) (map[string]string, error) {
	img, err := readAll(file)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"user_id": userID,
		"image":   base64.StdEncoding.EncodeToString(img),
	}, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `fgate CLI
Usage:
  fgate -addr URL [-admin-token TOKEN] <cmd> [args]

Commands:
  version
  identify   -u <userID> -file <image>             (saves token on success)
  enroll     -u <userID> -file <image>
  status     -u <userID>
  reset      -u <userID>                           (admin)
  attempts   -u <userID>                           (admin)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	adminToken := flag.String("admin-token", os.Getenv("FACEGATE_ADMIN_TOKEN"), "admin token for reset/attempts")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli := newAPIClient(*addr, *adminToken, 30*time.Second)

	switch cmd {

	case "version":
		fmt.Printf("fgate %s (%s)\n", version, buildDate)

	case "identify":
		fs := flag.NewFlagSet("identify", flag.ExitOnError)
		u := fs.String("u", "", "user id")
		file := fs.String("file", "", "capture image ('-'=stdin)")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *file == "" {
			fmt.Fprintln(os.Stderr, "need -u and -file")
			os.Exit(1)
		}

		body, err := captureBody(*u, *file)
		if err != nil {
			fail(err)
		}
		var res identifyResult
		err = cli.do(ctx, http.MethodPost, "/api/v1/face/identify", body, &res)
		printJSON(res)
		if err != nil {
			fail(err)
		}

		if res.AccessToken != "" {
			// parse exp from JWT
			var claims jwt.RegisteredClaims
			_, _ = jwt.ParseWithClaims(res.AccessToken, &claims, func(*jwt.Token) (any, error) { return nil, nil },
				jwt.WithoutClaimsValidation(),
			)
			exp := time.Now().Add(15 * time.Minute)
			if claims.ExpiresAt != nil {
				exp = claims.ExpiresAt.Time
			}
			if err := saveToken(res.AccessToken, exp); err != nil {
				fail(err)
			}
		}

	case "enroll":
		fs := flag.NewFlagSet("enroll", flag.ExitOnError)
		u := fs.String("u", "", "user id")
		file := fs.String("file", "", "reference image ('-'=stdin)")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *file == "" {
			fmt.Fprintln(os.Stderr, "need -u and -file")
			os.Exit(1)
		}

		body, err := captureBody(*u, *file)
		if err != nil {
			fail(err)
		}
		var out map[string]string
		if err := cli.do(ctx, http.MethodPost, "/api/v1/face/enroll", body, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		u := fs.String("u", "", "user id")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}

		var out json.RawMessage
		if err := cli.do(ctx, http.MethodGet, "/api/v1/face/status/"+*u, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		u := fs.String("u", "", "user id")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}

		if err := cli.do(ctx, http.MethodPost, "/api/v1/face/reset/"+*u, nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "attempts":
		fs := flag.NewFlagSet("attempts", flag.ExitOnError)
		u := fs.String("u", "", "user id")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}

		var out json.RawMessage
		if err := cli.do(ctx, http.MethodGet, "/api/v1/face/attempts/"+*u, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

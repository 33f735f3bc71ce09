package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/qbzgrab/qbzgrab/qobuz/signer"
)

const (
	webPlayerBaseURL = "https://play.qobuz.com"
	apiBaseURL       = "https://www.qobuz.com/api.json/0.2"

	// probeTrackID is a long-lived catalog track used only to exercise the
	// request signature during secret discovery.
	probeTrackID = "5966783"

	// The decodable portion of the obfuscated secret excludes a fixed-length
	// tail the bundle appends.
	secretTailLen = 44

	defaultDiscoveryTimeout = 30 * time.Second
)

var (
	ErrBundleNotFound = errors.New("web player bundle not found in login page")
	ErrAppIDNotFound  = errors.New("application id not found in web player bundle")
	ErrSecretNotFound = errors.New("no working application secret found in web player bundle")

	errBadSecret = errors.New("secret candidate rejected by signature check")

	bundleURLRegexp = regexp.MustCompile(`<script src="(/resources/\d+\.\d+\.\d+-[a-z]\d{3}/bundle\.js)"></script>`)
	appIDRegexp     = regexp.MustCompile(`production:\{api:\{appId:"(?P<app_id>[^"]*)",appSecret:`)
	seedRegexp      = regexp.MustCompile(`initialSeed\("(?P<seed>[\w=]+)",window\.utimezone\.(?P<timezone>[a-z]+)\)`)
)

// WebDiscoverer recovers working application credentials from the public web
// player: the login page names the current bundle, the bundle embeds the
// application id in clear and the secret obfuscated across per-timezone
// fragments. Every reconstructed secret candidate is proven with a signed
// probe request before being returned.
type WebDiscoverer struct {
	playerBaseURL string
	apiBaseURL    string
	timeout       time.Duration
}

func NewWebDiscoverer(timeout time.Duration) *WebDiscoverer {
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}

	return &WebDiscoverer{
		playerBaseURL: webPlayerBaseURL,
		apiBaseURL:    apiBaseURL,
		timeout:       timeout,
	}
}

func (d *WebDiscoverer) Discover(ctx context.Context, logger zerolog.Logger) (*Credentials, error) {
	page, err := d.get(ctx, logger, d.playerBaseURL+"/login")
	if nil != err {
		return nil, fmt.Errorf("fetch login page: %w", err)
	}

	match := bundleURLRegexp.FindSubmatch(page)
	if nil == match {
		return nil, ErrBundleNotFound
	}
	bundleURL := d.playerBaseURL + string(match[1])

	bundle, err := d.get(ctx, logger, bundleURL)
	if nil != err {
		return nil, fmt.Errorf("fetch bundle: %w", err)
	}

	appID, err := extractAppID(bundle)
	if nil != err {
		return nil, err
	}

	candidates := extractSecretCandidates(bundle)
	if len(candidates) == 0 {
		return nil, ErrSecretNotFound
	}

	logger.
		Debug().
		Str("bundle_url", bundleURL).
		Int("secret_candidates", len(candidates)).
		Msg("Extracted credentials from web player bundle")

	for _, secret := range candidates {
		if err := d.probeSecret(ctx, logger, appID, secret); nil != err {
			if errors.Is(err, errBadSecret) {
				continue
			}

			return nil, fmt.Errorf("probe secret candidate: %w", err)
		}

		return &Credentials{
			AppID:      appID,
			AppSecret:  secret,
			Discovered: true,
		}, nil
	}

	return nil, ErrSecretNotFound
}

func (d *WebDiscoverer) get(ctx context.Context, logger zerolog.Logger, u string) (b []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if nil != err {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := http.Client{Timeout: d.timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("issue request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close response body")
			err = errors.Join(err, fmt.Errorf("close response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, u)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return respBytes, nil
}

// probeSecret issues a signed resolution request for a known track. Any
// response other than a signature complaint proves the secret: even an
// authentication failure means the signature itself was accepted.
func (d *WebDiscoverer) probeSecret(
	ctx context.Context,
	logger zerolog.Logger,
	appID string,
	secret string,
) (err error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	params := []signer.Param{
		{Key: "format_id", Value: "5"},
		{Key: "intent", Value: "stream"},
		{Key: "track_id", Value: probeTrackID},
	}
	sig, err := signer.Sign("track/getFileUrl", params, secret, ts)
	if nil != err {
		return fmt.Errorf("sign probe request: %w", err)
	}

	query := make(url.Values, len(params)+2)
	for _, p := range params {
		query.Set(p.Key, p.Value)
	}
	query.Set("request_ts", ts)
	query.Set("request_sig", sig)

	reqURL := d.apiBaseURL + "/track/getFileUrl?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("X-App-Id", appID)

	client := http.Client{Timeout: d.timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return fmt.Errorf("issue probe request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close probe response body")
			err = errors.Join(err, fmt.Errorf("close probe response body: %v", closeErr))
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return fmt.Errorf("read probe response body: %w", err)
	}

	if msg := gjson.GetBytes(respBytes, "message").String(); strings.Contains(msg, "Invalid Request Signature parameter") {
		return errBadSecret
	}

	return nil
}

func extractAppID(bundle []byte) (string, error) {
	match := appIDRegexp.FindSubmatch(bundle)
	if nil == match {
		return "", ErrAppIDNotFound
	}

	return string(match[1]), nil
}

// extractSecretCandidates reconstructs every secret the bundle obfuscates.
// Each seed is tagged with a lowercase timezone whose capitalized form keys an
// object carrying the matching info and extras fragments. The candidate is
// the base64 decoding of seed+info+extras with the fixed tail removed.
func extractSecretCandidates(bundle []byte) []string {
	seeds := seedRegexp.FindAllSubmatch(bundle, -1)
	if nil == seeds {
		return nil
	}

	text := string(bundle)
	out := make([]string, 0, len(seeds))
	for _, m := range seeds {
		seed, timezone := string(m[1]), string(m[2])

		fragRegexp, err := regexp.Compile(
			`name:"\w+/` + capitalize(timezone) + `",info:"(?P<info>[\w=]+)",extras:"(?P<extras>[\w=]+)"`,
		)
		if nil != err {
			continue
		}

		frag := fragRegexp.FindStringSubmatch(text)
		if nil == frag {
			continue
		}

		joined := seed + frag[1] + frag[2]
		if len(joined) <= secretTailLen {
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(joined[:len(joined)-secretTailLen])
		if nil != err {
			continue
		}

		out = append(out, string(decoded))
	}

	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

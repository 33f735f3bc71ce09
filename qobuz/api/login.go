package api

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/qbzgrab/qbzgrab/qobuz/auth"
)

// LoginResult is the session identity the login endpoint grants. The token
// rides all subsequent calls as the X-User-Auth-Token header.
type LoginResult struct {
	UserID        string
	UserAuthToken string
}

// Login exchanges account credentials for a session token. The password is
// MD5-hashed before it leaves the process, matching the endpoint's contract.
func (c *Client) Login(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	username string,
	password string,
) (*LoginResult, error) {
	sum := md5.Sum([]byte(password)) //nolint:gosec

	form := make(url.Values, 3)
	form.Set("username", username)
	form.Set("password", hex.EncodeToString(sum[:]))
	form.Set("app_id", creds.AppID)

	respBytes, err := c.postForm(ctx, logger, creds, "user/login", form)
	if nil != err {
		return nil, fmt.Errorf("login: %w", err)
	}

	var respBody struct {
		UserAuthToken string `json:"user_auth_token"`
		User          struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Msg("Failed to decode login response body")
		return nil, fmt.Errorf("decode login response body: %v", err)
	}

	if respBody.UserAuthToken == "" {
		return nil, fmt.Errorf("%w: login response carried no session token", ErrAuthRequired)
	}

	return &LoginResult{
		UserID:        strconv.FormatInt(respBody.User.ID, 10),
		UserAuthToken: respBody.UserAuthToken,
	}, nil
}

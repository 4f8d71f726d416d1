// Package captcha gates login and registration behind a third-party
// human-verification service.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"profscore/api/internal/config"
)

type Result struct {
	Accepted bool
	Score    float64
}

// Verifier calls a siteverify-style endpoint with a bounded, cancellable
// request. Transport failures and timeouts fail closed: a request we cannot
// verify is treated as non-human.
type Verifier struct {
	cfg    config.CaptchaConfig
	client *http.Client
	log    zerolog.Logger
}

func NewVerifier(cfg config.CaptchaConfig, log zerolog.Logger) *Verifier {
	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (v *Verifier) Enabled() bool {
	return v.cfg.Enabled
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *Verifier) Verify(ctx context.Context, token string, remoteIP string) Result {
	if !v.cfg.Enabled {
		return Result{Accepted: true, Score: 1}
	}
	if token == "" {
		return Result{}
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	form := url.Values{
		"secret":   {v.cfg.Secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		v.log.Error().Err(err).Msg("captcha request build failed")
		return Result{}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn().Err(err).Msg("captcha verification unreachable")
		return Result{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.log.Warn().Int("status", resp.StatusCode).Msg("captcha verification rejected request")
		return Result{}
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		v.log.Warn().Err(err).Msg("captcha response decode failed")
		return Result{}
	}

	if !body.Success {
		v.log.Debug().Strs("error_codes", body.ErrorCodes).Msg("captcha rejected token")
		return Result{Score: body.Score}
	}
	if body.Score < v.cfg.MinScore {
		v.log.Debug().Float64("score", body.Score).Msg("captcha score below threshold")
		return Result{Score: body.Score}
	}

	return Result{Accepted: true, Score: body.Score}
}

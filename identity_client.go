package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const serviceTokenTTL = 5 * time.Minute

// IdentityClient talks to the identity service over HTTP. Requests carry a
// short-lived HS256 bearer token signed with the shared service secret.
type IdentityClient struct {
	baseURL    string
	secret     []byte
	http       *http.Client
	policy     RetryPolicy
	batchSize  int
	batchDelay time.Duration
}

// NewIdentityClient creates a client from the identity section of the config
func NewIdentityClient(cfg IdentityConfig) *IdentityClient {
	size := cfg.BatchSize
	if size <= 0 {
		size = 10
	}
	return &IdentityClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     []byte(cfg.Secret),
		http:       &http.Client{},
		policy:     cfg.Retry,
		batchSize:  size,
		batchDelay: cfg.BatchDelay,
	}
}

type quarantineRequest struct {
	IdentityID   string `json:"identityId"`
	IdentityName string `json:"identityName"`
	Account      string `json:"account"`
	Scope        string `json:"scope"`
	RootScope    string `json:"rootScope"`
}

type blockRequest struct {
	ThirdPartyID   string `json:"thirdPartyId"`
	ThirdPartyName string `json:"thirdPartyName"`
}

func (c *IdentityClient) serviceToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": "zombie-blaster",
		"iat": now.Unix(),
		"exp": now.Add(serviceTokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// post sends one request. Network errors, timeouts and 5xx answers come back
// as *TransientError; 4xx answers are explicit refusals.
func (c *IdentityClient) post(ctx context.Context, op, path string, body any) (ServiceResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return ServiceResult{}, fmt.Errorf("%s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return ServiceResult{}, fmt.Errorf("%s: %w", op, err)
	}
	token, err := c.serviceToken()
	if err != nil {
		return ServiceResult{}, fmt.Errorf("%s: sign token: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		// the caller's own cancellation is final, anything else on the wire is retryable
		if errors.Is(err, context.Canceled) {
			return ServiceResult{}, fmt.Errorf("%s: %w", op, err)
		}
		return ServiceResult{}, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 500 {
		return ServiceResult{}, &TransientError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var res ServiceResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return ServiceResult{}, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	if resp.StatusCode >= 400 {
		res.Success = false
		if res.ErrorMessage == "" {
			res.ErrorMessage = fmt.Sprintf("status %d", resp.StatusCode)
		}
	}
	return res, nil
}

// Quarantine disables one identity
func (c *IdentityClient) Quarantine(ctx context.Context, identityID, identityName, account, scope, rootScope string) (ServiceResult, error) {
	return c.post(ctx, "quarantine", "/v1/identities/quarantine", quarantineRequest{
		IdentityID:   identityID,
		IdentityName: identityName,
		Account:      account,
		Scope:        scope,
		RootScope:    rootScope,
	})
}

// BlockThirdParty revokes a third party's access
func (c *IdentityClient) BlockThirdParty(ctx context.Context, thirdPartyID, thirdPartyName string) (ServiceResult, error) {
	return c.post(ctx, "block", "/v1/third-parties/block", blockRequest{
		ThirdPartyID:   thirdPartyID,
		ThirdPartyName: thirdPartyName,
	})
}

// BatchQuarantine quarantines refs in batches of batchSize, pausing
// batchDelay between batches. Identities inside a batch run concurrently
// and each one is retried under the client's policy.
func (c *IdentityClient) BatchQuarantine(ctx context.Context, refs []IdentityRef) (BatchReport, error) {
	var (
		mu     sync.Mutex
		report BatchReport
	)
	for start := 0; start < len(refs); start += c.batchSize {
		if start > 0 && c.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(c.batchDelay):
			}
		}
		end := min(start+c.batchSize, len(refs))

		g, gctx := errgroup.WithContext(ctx)
		for _, ref := range refs[start:end] {
			ref := ref
			g.Go(func() error {
				err := Retry(gctx, c.policy, "quarantine", func(actx context.Context) error {
					res, err := c.Quarantine(actx, ref.IdentityID, ref.IdentityName, ref.Account, ref.Scope, ref.RootScope)
					return resultError("quarantine", res, err)
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", ref.IdentityName, userMessage(err)))
					report.FailedRefs = append(report.FailedRefs, ref)
					return nil
				}
				report.Successful++
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		log.Debug().Int("batch_end", end).Int("total", len(refs)).Msg("quarantine batch done")
	}
	return report, nil
}

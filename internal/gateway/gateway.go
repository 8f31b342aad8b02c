package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"taskchat/internal/apperr"
	"taskchat/internal/service"
)

// IdempotencyHeader is attached to every mutating request.
const IdempotencyHeader = "Idempotency-Key"

// Authority supplies the current session and tears it down on authorization failure.
type Authority interface {
	Current() service.Session

	// ForceExpire ends the session that owns token. A token that is no longer
	// current is ignored, as is a session that already ended. The error
	// reports credentials that could not be removed.
	ForceExpire(ctx context.Context, token string) error
}

// Gateway performs authenticated requests and classifies their outcome.
type Gateway struct {
	t      *Transport
	auth   Authority
	newKey func() string
}

// New creates a Gateway on top of t.
func New(t *Transport, auth Authority) *Gateway {
	return &Gateway{
		t:      t,
		auth:   auth,
		newKey: uuid.NewString,
	}
}

// Do sends method+path with in as the JSON body (nil for none) and decodes a
// 2xx body into out (nil to discard). Failures are *apperr.Error:
//
//	401, 403                 SessionExpired, after forcing session teardown
//	non-2xx, JSON body       RequestFailed with the server detail
//	non-2xx, other body      RequestFailed with the raw body or status text
//	no response              NetworkUnavailable
//	2xx, undecodable body    MalformedResponse
func (g *Gateway) Do(ctx context.Context, method, path string, in, out any) error {
	sess := g.auth.Current()
	if !sess.Authenticated() {
		return apperr.New(apperr.NotAuthenticated, "not signed in")
	}

	req := Request{Method: method, Path: path, Body: in, Header: http.Header{}}
	if isMutating(method) {
		req.Header.Set(IdempotencyHeader, g.newKey())
	}

	reply, err := g.t.send(ctx, g.clientFor(sess.Token), req)
	if err != nil {
		return err
	}
	log := g.t.log.With("method", method, "path", path, "status", reply.Status)

	switch {
	case reply.Status == http.StatusUnauthorized || reply.Status == http.StatusForbidden:
		log.Debug("authorization rejected, ending session")
		clearErr := g.auth.ForceExpire(ctx, sess.Token)
		detail := "session expired, please sign in again"
		if reply.IsJSON() {
			if d := reply.Detail(); d != "" {
				detail = d
			}
		}
		return &apperr.Error{Kind: apperr.SessionExpired, Status: reply.Status, Detail: detail, Err: clearErr}

	case !reply.OK() && reply.IsJSON():
		detail := reply.Detail()
		if detail == "" {
			detail = genericMessage(reply.Status)
		}
		return &apperr.Error{Kind: apperr.RequestFailed, Status: reply.Status, Detail: detail}

	case !reply.OK():
		return &apperr.Error{Kind: apperr.RequestFailed, Status: reply.Status, Detail: reply.Text()}
	}

	if out == nil {
		return nil
	}
	if err := reply.Decode(out); err != nil {
		log.Debug("undecodable response body", "err", err)
		return &apperr.Error{
			Kind:   apperr.MalformedResponse,
			Status: reply.Status,
			Detail: "unexpected response from server",
			Err:    err,
		}
	}
	return nil
}

// clientFor returns a client whose transport adds the bearer header for token.
func (g *Gateway) clientFor(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   g.t.client.Transport,
		},
		Timeout:       g.t.client.Timeout,
		CheckRedirect: g.t.client.CheckRedirect,
		Jar:           g.t.client.Jar,
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func genericMessage(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "the request was rejected"
	case status == http.StatusNotFound:
		return "not found"
	case status == http.StatusConflict:
		return "the request conflicts with the current state"
	case status == http.StatusUnprocessableEntity:
		return "the request did not pass validation"
	case status == http.StatusTooManyRequests:
		return "too many requests, try again later"
	case status >= 500:
		return fmt.Sprintf("server error (%d)", status)
	default:
		return fmt.Sprintf("request failed with status %d", status)
	}
}

/*
session.go - ERP session lifecycle

PURPOSE:
  The ERP authenticates with a session cookie (sid) obtained from /login
  and expiring server-side. Session state is an explicit value owned by
  the Client, not ambient globals: callers obtain the current session,
  and on a 401 the call site refreshes and retries exactly once.

MAX-SESSIONS:
  The ERP caps concurrent sessions per user. When login fails with
  LOGIN_ERROR_MAX_SESSIONS it returns the open sessions; the client kills
  the least recently used one and logs in again.
*/
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// sessionTTL is how long a sid is trusted before proactively renewing.
// The server-side expiry is longer; renewing early avoids a 401 round trip.
const sessionTTL = 20 * time.Minute

// Session is an ERP session handle.
type Session struct {
	SID       string
	ExpiresAt time.Time
}

func (s Session) Valid(now time.Time) bool {
	return s.SID != "" && now.Before(s.ExpiresAt)
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	SessionToKill string `json:"sessionToKill,omitempty"`
}

type loginError struct {
	Type     string `json:"type"`
	Sessions []struct {
		SessionID        string `json:"sessionId"`
		LastAccessedTime int64  `json:"sessionLastAccessedTime"`
	} `json:"sessions"`
}

// currentSession returns a valid session, logging in when needed.
func (c *Client) currentSession(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Valid(c.now()) {
		return c.session, nil
	}

	session, err := c.login(ctx, "")
	if err != nil {
		return Session{}, err
	}
	c.session = session
	return session, nil
}

// refreshSession replaces an expired session after a 401. The stale session
// is only discarded if it is still the current one, so concurrent callers
// don't force redundant logins.
func (c *Client) refreshSession(ctx context.Context, stale Session) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.SID != stale.SID && c.session.Valid(c.now()) {
		// Another caller already renewed.
		return c.session, nil
	}

	session, err := c.login(ctx, "")
	if err != nil {
		return Session{}, err
	}
	c.session = session
	return session, nil
}

// login authenticates and extracts the sid cookie. Called with c.mu held.
func (c *Client) login(ctx context.Context, sessionToKill string) (Session, error) {
	body, err := json.Marshal(loginRequest{
		Username:      c.username,
		Password:      c.password,
		SessionToKill: sessionToKill,
	})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

		// Session limit reached: kill the least recently used session and
		// retry once.
		var le loginError
		if sessionToKill == "" && json.Unmarshal(raw, &le) == nil &&
			le.Type == "LOGIN_ERROR_MAX_SESSIONS" && len(le.Sessions) > 0 {
			oldest := le.Sessions[0]
			for _, s := range le.Sessions[1:] {
				if s.LastAccessedTime < oldest.LastAccessedTime {
					oldest = s
				}
			}
			c.log.Warn("session limit reached, killing least recently used session",
				"session", oldest.SessionID)
			return c.login(ctx, oldest.SessionID)
		}

		return Session{}, fmt.Errorf("login failed with status %d: %s", resp.StatusCode, raw)
	}

	sid := sidFromCookies(resp.Cookies())
	if sid == "" {
		return Session{}, fmt.Errorf("login response carried no sid cookie")
	}

	c.log.Info("ERP login succeeded")
	return Session{SID: sid, ExpiresAt: c.now().Add(sessionTTL)}, nil
}

func sidFromCookies(cookies []*http.Cookie) string {
	for _, ck := range cookies {
		if strings.EqualFold(ck.Name, "sid") {
			return ck.Value
		}
	}
	return ""
}

package gymapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gymaccess/internal/model"
)

// decodeList accepts either a bare JSON array or an object wrapping the
// array under the first of keys that is present. A missing list is empty.
func decodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	out := []T{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return out, nil
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	for _, k := range keys {
		v, ok := env[k]
		v = bytes.TrimSpace(v)
		if !ok || len(v) == 0 || v[0] != '[' {
			continue
		}
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("failed to decode %q: %w", k, err)
		}
		return out, nil
	}
	return out, nil
}

// totalField looks for an explicit count in an object response.
func totalField(raw json.RawMessage) (int, bool) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, false
	}
	for _, k := range []string{"total", "totalCount"} {
		var n int
		if v, ok := env[k]; ok && json.Unmarshal(v, &n) == nil && n >= 0 {
			return n, true
		}
	}
	return 0, false
}

// errorMessage extracts {"message": ...} from an error body, falling back
// to the trimmed body text.
func errorMessage(body []byte) string {
	var env struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		var s string
		if json.Unmarshal(env.Message, &s) == nil && s != "" {
			return s
		}
		// some validation errors arrive as a list of messages
		var list []string
		if json.Unmarshal(env.Message, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
		if env.Error != "" {
			return env.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// parsePagination reads the listing's paging info, either nested under
// "pagination" or flat on the envelope. Missing values fall back to the
// request and to the number of users returned.
func parsePagination(raw json.RawMessage, page, limit, n int) Pagination {
	p := Pagination{CurrentPage: page, Limit: limit, TotalCount: n, TotalPages: 1}
	var flat Pagination
	if err := json.Unmarshal(raw, &flat); err != nil {
		// bare arrays carry no paging info
		return p
	}
	var nested struct {
		Pagination *Pagination `json:"pagination"`
	}
	src := flat
	if json.Unmarshal(raw, &nested) == nil && nested.Pagination != nil {
		src = *nested.Pagination
	}
	if src.CurrentPage > 0 {
		p.CurrentPage = src.CurrentPage
	}
	if src.Limit > 0 {
		p.Limit = src.Limit
	}
	if src.TotalCount > 0 {
		p.TotalCount = src.TotalCount
	}
	switch {
	case src.TotalPages > 0:
		p.TotalPages = src.TotalPages
	case p.Limit > 0 && p.TotalCount > p.Limit:
		p.TotalPages = (p.TotalCount + p.Limit - 1) / p.Limit
	}
	return p
}

func parseLogin(raw json.RawMessage) (LoginResult, error) {
	var outer struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return LoginResult{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	body := raw
	if d := bytes.TrimSpace(outer.Data); len(d) > 0 && d[0] == '{' {
		body = d
	}

	var in struct {
		User         json.RawMessage `json:"user"`
		AccessToken  string          `json:"accessToken"`
		Token        string          `json:"token"`
		AccessToken2 string          `json:"access_token"`
		RefreshToken string          `json:"refreshToken"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return LoginResult{}, fmt.Errorf("failed to decode login response: %w", err)
	}

	res := LoginResult{RefreshToken: in.RefreshToken}
	if u := bytes.TrimSpace(in.User); len(u) > 0 && u[0] == '{' {
		var p model.Person
		if err := json.Unmarshal(u, &p); err == nil {
			res.User = &p
		}
	}
	for _, t := range []string{in.AccessToken, in.Token, in.AccessToken2} {
		if t != "" {
			res.AccessToken = t
			break
		}
	}
	if res.AccessToken == "" {
		return LoginResult{}, ErrNoToken
	}
	return res, nil
}

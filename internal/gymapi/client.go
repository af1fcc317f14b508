package gymapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gymaccess/internal/auth"
	"gymaccess/internal/model"
)

// tokenSkew is how close to expiry a session token is treated as expired.
const tokenSkew = 30 * time.Second

// Client calls the gym REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Session *auth.Session

	// DNI and Password, when both set, let the client log in again on its
	// own once the session token has expired.
	DNI      string
	Password string

	loginMu sync.Mutex
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Session: &auth.Session{},
	}
}

// UserCount returns the number of registered users.
func (c *Client) UserCount(ctx context.Context) (int, error) {
	raw, err := c.get(ctx, "/users")
	if err != nil {
		return 0, err
	}
	if total, ok := totalField(raw); ok {
		return total, nil
	}
	users, err := decodeList[json.RawMessage](raw, "data", "users")
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

// TodayAttendance returns everyone the access endpoint recorded today.
func (c *Client) TodayAttendance(ctx context.Context) ([]model.AttendanceRecord, error) {
	raw, err := c.get(ctx, "/users/assistance-today")
	if err != nil {
		return nil, err
	}
	return decodeList[model.AttendanceRecord](raw, "data", "users")
}

// DirectoryPage returns one page of the user directory. Pages start at 1.
func (c *Client) DirectoryPage(ctx context.Context, page, limit int) ([]model.DirectoryRecord, error) {
	res, err := c.Users(ctx, page, limit, "")
	if err != nil {
		return nil, err
	}
	return res.Users, nil
}

// Users lists registered users one page at a time, optionally filtered by
// category ("estudiante", "administrativo").
func (c *Client) Users(ctx context.Context, page, limit int, category string) (UsersPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if category != "" {
		q.Set("tipo", category)
	}
	raw, err := c.get(ctx, "/users/paginated?"+q.Encode())
	if err != nil {
		return UsersPage{}, err
	}
	users, err := decodeList[model.DirectoryRecord](raw, "data", "users")
	if err != nil {
		return UsersPage{}, err
	}
	return UsersPage{Users: users, Pagination: parsePagination(raw, page, limit, len(users))}, nil
}

// UpdateUser changes the given fields of user id.
func (c *Client) UpdateUser(ctx context.Context, id int64, u UserUpdate) (json.RawMessage, error) {
	if u.Empty() {
		return nil, ErrEmptyUpdate
	}
	return c.do(ctx, http.MethodPut, "/users/"+strconv.FormatInt(id, 10), u, true)
}

// DeleteUser removes user id.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/users/"+strconv.FormatInt(id, 10), nil, true)
	return err
}

// GymEvenAttendance returns today's gym accesses as recorded by the
// entry/exit endpoint.
func (c *Client) GymEvenAttendance(ctx context.Context) ([]model.AttendanceRecord, error) {
	raw, err := c.get(ctx, "/users/attendance/gym-even")
	if err != nil {
		return nil, err
	}
	return decodeList[model.AttendanceRecord](raw, "data", "users")
}

// WeeklyAttendance returns the gym API's weekly access summary. Its shape
// is not fixed, so the body is passed through; an empty body becomes {}.
func (c *Client) WeeklyAttendance(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.get(ctx, "/users/attendance/weekly")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return raw, nil
}

// Careers lists the study programs students can register under.
func (c *Client) Careers(ctx context.Context) ([]model.Career, error) {
	raw, err := c.get(ctx, "/careers")
	if err != nil {
		return nil, err
	}
	return decodeList[model.Career](raw, "data", "careers")
}

// Positions lists the staff job titles.
func (c *Client) Positions(ctx context.Context) ([]model.Position, error) {
	raw, err := c.get(ctx, "/puestos")
	if err != nil {
		return nil, err
	}
	return decodeList[model.Position](raw, "data", "puestos")
}

// RegisterAccess records an entry or exit for the given national ID.
// The gym API toggles between the two.
func (c *Client) RegisterAccess(ctx context.Context, dni string) (AccessResult, error) {
	var out AccessResult
	raw, err := c.do(ctx, http.MethodPost, "/users/attendance", map[string]string{"dni": strings.TrimSpace(dni)}, true)
	if err != nil {
		return out, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			// non-object bodies are still a success
			out.Data = raw
		}
	}
	return out, nil
}

// RegisterStudent registers a new student.
func (c *Client) RegisterStudent(ctx context.Context, f StudentForm) (json.RawMessage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/users/student", f, true)
}

// RegisterStaff registers a new staff member.
func (c *Client) RegisterStaff(ctx context.Context, f StaffForm) (json.RawMessage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/users/funcionario", f, true)
}

// Login authenticates against the gym API and stores the tokens in the
// client's session.
func (c *Client) Login(ctx context.Context, dni, password string) (LoginResult, error) {
	raw, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"dni":      dni,
		"password": password,
	}, false)
	if err != nil {
		return LoginResult{}, err
	}
	res, err := parseLogin(raw)
	if err != nil {
		return LoginResult{}, err
	}
	c.Session.Set(res.AccessToken, res.RefreshToken)
	return res, nil
}

// Logout ends the upstream session. The local session is cleared even when
// the gym API call fails. No login is attempted just to log out.
func (c *Client) Logout(ctx context.Context) error {
	defer c.Session.Clear()
	if c.Session.AccessToken() == "" {
		return nil
	}
	_, err := c.send(ctx, http.MethodPost, "/auth/logout", nil, true)
	return err
}

// Health checks that the gym API answers at all.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gym api unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gym api unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil, true)
}

// do sends one request. When authed is set the session token is attached,
// refreshed first if needed, and a 401 triggers one re-login and retry.
func (c *Client) do(ctx context.Context, method, path string, payload any, authed bool) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	if authed {
		if err := c.ensureSession(ctx); err != nil {
			log.Printf("warning: gym api re-login failed: %v", err)
		}
	}

	raw, err := c.send(ctx, method, path, body, authed)
	var apiErr *APIError
	if authed && c.canLogin() && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.Session.Clear()
		if lerr := c.ensureSession(ctx); lerr != nil {
			return nil, err
		}
		raw, err = c.send(ctx, method, path, body, authed)
	}
	return raw, err
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, authed bool) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if tok := c.Session.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gym api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gym api read failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return bytes.TrimSpace(data), nil
}

func (c *Client) canLogin() bool { return c.DNI != "" && c.Password != "" }

func (c *Client) ensureSession(ctx context.Context) error {
	if !c.canLogin() || c.Session.Valid(tokenSkew) {
		return nil
	}
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	// another caller may have logged in while we waited
	if c.Session.Valid(tokenSkew) {
		return nil
	}
	_, err := c.Login(ctx, c.DNI, c.Password)
	return err
}

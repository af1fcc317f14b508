package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymaccess/internal/attendance"
	"gymaccess/internal/auth"
	"gymaccess/internal/cloudinary"
	"gymaccess/internal/gymapi"
	"gymaccess/internal/history"
	"gymaccess/internal/livecount"
	"gymaccess/internal/model"
	"gymaccess/internal/occupancy"
)

var testTokens = TokenConfig{
	Issuer:     "gymaccess",
	SigningKey: "test-key",
	AccessTTL:  time.Minute,
	RefreshTTL: time.Hour,
}

type fakeGym struct {
	loginErr   error
	accessErr  error
	accessDNIs []string
	students   []gymapi.StudentForm
	staff      []gymapi.StaffForm

	usersQuery string
	updates    map[int64]gymapi.UserUpdate
	deleted    []int64
	logouts    int
	logoutErr  error
}

func (f *fakeGym) Login(ctx context.Context, dni, password string) (gymapi.LoginResult, error) {
	if f.loginErr != nil {
		return gymapi.LoginResult{}, f.loginErr
	}
	return gymapi.LoginResult{
		AccessToken: "upstream",
		User:        &model.Person{FirstName: "Marta", Surname1: "Ruiz", NationalID: dni},
	}, nil
}

func (f *fakeGym) RegisterAccess(ctx context.Context, dni string) (gymapi.AccessResult, error) {
	f.accessDNIs = append(f.accessDNIs, dni)
	return gymapi.AccessResult{Message: "Entrada registrada"}, f.accessErr
}

func (f *fakeGym) RegisterStudent(ctx context.Context, s gymapi.StudentForm) (json.RawMessage, error) {
	f.students = append(f.students, s)
	return json.RawMessage(`{"id":10}`), nil
}

func (f *fakeGym) RegisterStaff(ctx context.Context, s gymapi.StaffForm) (json.RawMessage, error) {
	f.staff = append(f.staff, s)
	return json.RawMessage(`{"id":11}`), nil
}

func (f *fakeGym) Careers(ctx context.Context) ([]model.Career, error) {
	return []model.Career{{ID: 1, Title: "Ingeniería"}}, nil
}

func (f *fakeGym) Positions(ctx context.Context) ([]model.Position, error) {
	return nil, &gymapi.APIError{Status: http.StatusServiceUnavailable, Message: "down"}
}

func (f *fakeGym) Users(ctx context.Context, page, limit int, category string) (gymapi.UsersPage, error) {
	f.usersQuery = fmt.Sprintf("page=%d limit=%d tipo=%s", page, limit, category)
	return gymapi.UsersPage{
		Users:      []model.DirectoryRecord{{Person: model.Person{ID: 4, NationalID: "12345678"}}},
		Pagination: gymapi.Pagination{CurrentPage: page, Limit: limit, TotalCount: 1, TotalPages: 1},
	}, nil
}

func (f *fakeGym) UpdateUser(ctx context.Context, id int64, u gymapi.UserUpdate) (json.RawMessage, error) {
	if u.Empty() {
		return nil, gymapi.ErrEmptyUpdate
	}
	if f.updates == nil {
		f.updates = map[int64]gymapi.UserUpdate{}
	}
	f.updates[id] = u
	return json.RawMessage(`{"success":true}`), nil
}

func (f *fakeGym) DeleteUser(ctx context.Context, id int64) error {
	if id == 404 {
		return &gymapi.APIError{Status: http.StatusNotFound, Message: "Usuario no encontrado"}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeGym) GymEvenAttendance(ctx context.Context) ([]model.AttendanceRecord, error) {
	return []model.AttendanceRecord{{Person: model.Person{NationalID: "1"}}, {Person: model.Person{NationalID: "2"}}}, nil
}

func (f *fakeGym) WeeklyAttendance(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"lunes":4,"martes":6}`), nil
}

func (f *fakeGym) Logout(ctx context.Context) error {
	f.logouts++
	return f.logoutErr
}

type fakeOccupancy struct {
	snap      occupancy.Snapshot
	refreshes int
}

func (f *fakeOccupancy) Snapshot() occupancy.Snapshot { return f.snap }

func (f *fakeOccupancy) Refresh(ctx context.Context) occupancy.Snapshot {
	f.refreshes++
	return f.snap
}

type fakeLive struct {
	state  livecount.State
	latest livecount.Message
}

func (f fakeLive) State() livecount.State { return f.state }

func (f fakeLive) Latest() (livecount.Message, bool) { return f.latest, f.latest != nil }

type fakeHistory struct {
	from, to time.Time
	limit    int
}

func (f *fakeHistory) ListSamples(ctx context.Context, from, to time.Time, limit int) ([]history.Sample, error) {
	f.from, f.to, f.limit = from, to, limit
	return []history.Sample{{ID: "s1", Occupancy: 5, Source: "live"}}, nil
}

func (f *fakeHistory) Weekly(ctx context.Context, now time.Time) ([]history.Day, error) {
	return make([]history.Day, 7), nil
}

type fakePhotos struct {
	files []string
	data  []string
}

func (f *fakePhotos) UploadFile(ctx context.Context, r io.Reader, filename string) (*cloudinary.UploadResult, error) {
	f.files = append(f.files, filename)
	return &cloudinary.UploadResult{SecureURL: "https://cdn/" + filename}, nil
}

func (f *fakePhotos) UploadDataURL(ctx context.Context, data string) (*cloudinary.UploadResult, error) {
	f.data = append(f.data, data)
	return &cloudinary.UploadResult{SecureURL: "https://cdn/inline.jpg"}, nil
}

type harness struct {
	router *gin.Engine
	gym    *fakeGym
	occ    *fakeOccupancy
	hist   *fakeHistory
	photos *fakePhotos
	token  string
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hs := &harness{
		gym: &fakeGym{},
		occ: &fakeOccupancy{snap: occupancy.Snapshot{
			ID: "snap-1", Occupancy: 12, Source: occupancy.SourceAggregate, LiveState: "connected",
			PresentToday: 12, TotalRegistered: 300,
			Present:    []model.AttendanceRecord{{Person: model.Person{NationalID: "12345678", FirstName: "Juan"}}},
			Attendance: attendance.Outcome{OK: true},
		}},
		hist:   &fakeHistory{},
		photos: &fakePhotos{},
	}
	d := Deps{
		Gym:       hs.gym,
		Occupancy: hs.occ,
		Live:      fakeLive{state: livecount.Connected, latest: livecount.Decode([]byte(`{"contador":7}`))},
		History:   hs.hist,
		Photos:    hs.photos,
		Tokens:    testTokens,
	}
	if mutate != nil {
		mutate(&d)
	}
	hs.router = gin.New()
	New(d).Register(hs.router, nil, nil)

	pair, err := auth.Issue("87654321", "Op", auth.RoleOperator, testTokens.Issuer, testTokens.SigningKey, time.Minute, time.Hour)
	require.NoError(t, err)
	hs.token = pair.AccessToken
	return hs
}

func (hs *harness) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+hs.token)
	w := httptest.NewRecorder()
	hs.router.ServeHTTP(w, req)
	return w
}

func (hs *harness) json(method, path, body string) *httptest.ResponseRecorder {
	return hs.do(method, path, strings.NewReader(body), "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestLoginIssuesOperatorTokens(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.json(http.MethodPost, "/v1/login", `{"dni":"12345678","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	claims, err := auth.Parse(body["access_token"].(string), testTokens.SigningKey, testTokens.Issuer)
	require.NoError(t, err)
	assert.Equal(t, "12345678", claims.Subject)
	assert.Equal(t, "Marta Ruiz", claims.Name)
	assert.Equal(t, auth.RoleOperator, claims.Role)

	w = hs.json(http.MethodPost, "/v1/refresh", `{"refresh_token":"`+body["refresh_token"].(string)+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	hs := newHarness(t, nil)
	pair, err := auth.Issue("87654321", "Op", auth.RoleOperator, testTokens.Issuer, testTokens.SigningKey, time.Minute, time.Hour)
	require.NoError(t, err)

	w := hs.json(http.MethodPost, "/v1/refresh", `{"refresh_token":"`+pair.AccessToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	hs.token = pair.RefreshToken
	assert.Equal(t, http.StatusUnauthorized, hs.do(http.MethodGet, "/v1/occupancy", nil, "").Code)

	hs.token = pair.AccessToken
	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/v1/occupancy", nil, "").Code)
}

func TestLoginFailures(t *testing.T) {
	hs := newHarness(t, nil)
	assert.Equal(t, http.StatusBadRequest, hs.json(http.MethodPost, "/v1/login", `{"dni":"1"}`).Code)

	hs.gym.loginErr = &gymapi.APIError{Status: http.StatusUnauthorized, Message: "Credenciales inválidas"}
	w := hs.json(http.MethodPost, "/v1/login", `{"dni":"1","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Credenciales inválidas", decode(t, w)["error"])

	hs.gym.loginErr = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, hs.json(http.MethodPost, "/v1/login", `{"dni":"1","password":"x"}`).Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	hs := newHarness(t, nil)
	hs.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, hs.do(http.MethodGet, "/v1/occupancy", nil, "").Code)
}

func TestGetOccupancy(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodGet, "/v1/occupancy", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 12.0, body["occupancy"])
	assert.Equal(t, "aggregate", body["source"])
	assert.NotContains(t, body, "present")
	assert.Zero(t, hs.occ.refreshes)

	hs.do(http.MethodGet, "/v1/occupancy?refresh=true", nil, "")
	assert.Equal(t, 1, hs.occ.refreshes)
}

func TestTodayAttendance(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodGet, "/v1/attendance/today", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	present := body["present"].([]any)
	require.Len(t, present, 1)
	assert.Equal(t, "12345678", present[0].(map[string]any)["dni"])
}

func TestLiveState(t *testing.T) {
	hs := newHarness(t, nil)
	body := decode(t, hs.do(http.MethodGet, "/v1/live/state", nil, ""))
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, "count", body["kind"])
	assert.Equal(t, 7.0, body["count"])
	assert.Equal(t, `{"contador":7}`, body["latest"])
}

func TestRegisterAccess(t *testing.T) {
	hs := newHarness(t, nil)
	assert.Equal(t, http.StatusBadRequest, hs.json(http.MethodPost, "/v1/access", `{"dni":"  "}`).Code)

	w := hs.json(http.MethodPost, "/v1/access", `{"dni":" 12345678 "}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"12345678"}, hs.gym.accessDNIs)

	hs.gym.accessErr = &gymapi.APIError{Status: http.StatusNotFound, Message: "Usuario no encontrado"}
	w = hs.json(http.MethodPost, "/v1/access", `{"dni":"999"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Usuario no encontrado", decode(t, w)["error"])

	hs.gym.accessErr = &gymapi.APIError{Status: http.StatusUnauthorized}
	assert.Equal(t, http.StatusBadGateway, hs.json(http.MethodPost, "/v1/access", `{"dni":"999"}`).Code)
}

func TestRegisterStudentMultipart(t *testing.T) {
	hs := newHarness(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"nombre": "Ana", "apellido1": "López", "dni": "11", "id_carrera": "3"} {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("photo", "ana.jpg")
	require.NoError(t, err)
	_, _ = part.Write([]byte("jpeg"))
	require.NoError(t, mw.Close())

	w := hs.do(http.MethodPost, "/v1/students", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, hs.gym.students, 1)
	assert.Equal(t, int64(3), hs.gym.students[0].CareerID)
	assert.Equal(t, "https://cdn/ana.jpg", hs.gym.students[0].PhotoURL)
	assert.Equal(t, []string{"ana.jpg"}, hs.photos.files)
}

func TestRegisterStaffJSON(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.json(http.MethodPost, "/v1/staff", `{"nombre":"Luis","apellido1":"Mora","dni":"22","id_puesto":2,"photo_data":"data:image/png;base64,AAAA"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, hs.gym.staff, 1)
	assert.Equal(t, "https://cdn/inline.jpg", hs.gym.staff[0].PhotoURL)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, hs.photos.data)

	// missing position
	assert.Equal(t, http.StatusBadRequest, hs.json(http.MethodPost, "/v1/staff", `{"nombre":"Luis","apellido1":"Mora","dni":"22"}`).Code)
}

func TestRegisterWithoutPhotoStorage(t *testing.T) {
	hs := newHarness(t, func(d *Deps) { d.Photos = nil })

	w := hs.json(http.MethodPost, "/v1/students", `{"nombre":"Ana","apellido1":"López","dni":"11","id_carrera":3,"photo_data":"AAAA"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, hs.gym.students)

	// a hosted URL needs no upload
	w = hs.json(http.MethodPost, "/v1/students", `{"nombre":"Ana","apellido1":"López","dni":"11","id_carrera":3,"foto_url":"https://img/a.jpg"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://img/a.jpg", hs.gym.students[0].PhotoURL)
}

func TestCatalogs(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodGet, "/v1/careers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":1,"titulo":"Ingeniería"}]`, w.Body.String())

	assert.Equal(t, http.StatusBadGateway, hs.do(http.MethodGet, "/v1/positions", nil, "").Code)
}

func TestHistory(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodGet, "/v1/history?from=2026-10-01T00:00:00Z&limit=20", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), hs.hist.from)
	assert.True(t, hs.hist.to.IsZero())
	assert.Equal(t, 20, hs.hist.limit)

	assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodGet, "/v1/history?to=yesterday", nil, "").Code)

	w = hs.do(http.MethodGet, "/v1/history/weekly", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["days"], 7)
}

func TestHistoryNotConfigured(t *testing.T) {
	hs := newHarness(t, func(d *Deps) { d.History = nil })
	assert.Equal(t, http.StatusServiceUnavailable, hs.do(http.MethodGet, "/v1/history", nil, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, hs.do(http.MethodGet, "/v1/history/weekly", nil, "").Code)
}

func TestHealthz(t *testing.T) {
	healthy := true
	hs := newHarness(t, func(d *Deps) {
		d.Checks = map[string]func(context.Context) bool{
			"redis": func(context.Context) bool { return healthy },
		}
	})
	w := hs.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", decode(t, w)["live"])

	healthy = false
	w = hs.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode(t, w)["redis"])
}

func TestListUsers(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodGet, "/v1/users?page=2&limit=1000&tipo=estudiante", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "page=2 limit=500 tipo=estudiante", hs.gym.usersQuery)

	body := decode(t, w)
	assert.Len(t, body["users"], 1)
	pag := body["pagination"].(map[string]any)
	assert.Equal(t, 2.0, pag["currentPage"])
	assert.Equal(t, 1.0, pag["totalCount"])

	hs.do(http.MethodGet, "/v1/users", nil, "")
	assert.Equal(t, "page=1 limit=100 tipo=", hs.gym.usersQuery)

	for _, q := range []string{"page=0", "limit=x", "tipo=visitante"} {
		assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodGet, "/v1/users?"+q, nil, "").Code, q)
	}
}

func TestUpdateUser(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.json(http.MethodPut, "/v1/users/7", `{"nombre":"Ana","id_puesto":3,"photo_data":"data:image/png;base64,AAAA"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u := hs.gym.updates[7]
	require.NotNil(t, u.FirstName)
	assert.Equal(t, "Ana", *u.FirstName)
	require.NotNil(t, u.PositionID)
	assert.Equal(t, int64(3), *u.PositionID)
	require.NotNil(t, u.PhotoURL)
	assert.Equal(t, "https://cdn/inline.jpg", *u.PhotoURL)
	assert.Nil(t, u.Surname1)

	assert.Equal(t, http.StatusBadRequest, hs.json(http.MethodPut, "/v1/users/7", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, hs.json(http.MethodPut, "/v1/users/abc", `{"nombre":"Ana"}`).Code)
}

func TestUpdateUserPhotoWithoutStorage(t *testing.T) {
	hs := newHarness(t, func(d *Deps) { d.Photos = nil })
	w := hs.json(http.MethodPut, "/v1/users/7", `{"photo_data":"data:image/png;base64,AAAA"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, hs.gym.updates)
}

func TestDeleteUser(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodDelete, "/v1/users/9", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{9}, hs.gym.deleted)

	w = hs.do(http.MethodDelete, "/v1/users/404", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Usuario no encontrado", decode(t, w)["error"])

	assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodDelete, "/v1/users/-1", nil, "").Code)
}

func TestAttendanceReports(t *testing.T) {
	hs := newHarness(t, nil)
	w := hs.do(http.MethodGet, "/v1/attendance/gym-even", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["count"])

	w = hs.do(http.MethodGet, "/v1/attendance/weekly", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lunes":4,"martes":6}`, w.Body.String())
}

func TestLogout(t *testing.T) {
	hs := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, hs.do(http.MethodPost, "/v1/logout", nil, "").Code)

	hs.gym.logoutErr = errors.New("connection refused")
	assert.Equal(t, http.StatusOK, hs.do(http.MethodPost, "/v1/logout", nil, "").Code)
	assert.Equal(t, 2, hs.gym.logouts)
}

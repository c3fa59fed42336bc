package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn   func(ctx context.Context, input auth.RegisterInput) (*auth.Result, error)
	loginFn      func(ctx context.Context, input auth.LoginInput) (*auth.Result, error)
	oauthLoginFn func(ctx context.Context, idToken string) (*auth.Result, error)
}

func (m *mockAuthService) Register(ctx context.Context, input auth.RegisterInput) (*auth.Result, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, input auth.LoginInput) (*auth.Result, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAuthService) OAuthLogin(ctx context.Context, idToken string) (*auth.Result, error) {
	if m.oauthLoginFn != nil {
		return m.oauthLoginFn(ctx, idToken)
	}
	return nil, nil
}

type mockUserService struct {
	getProfileFn    func(ctx context.Context, userID string) (*model.User, error)
	updateProfileFn func(ctx context.Context, userID string, input user.ProfileInput) (*model.User, error)
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, input user.ProfileInput) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, input)
	}
	return nil, nil
}

type mockTaskService struct {
	listFn   func(ctx context.Context, ownerID string, params task.ListParams) (*task.ListResult, error)
	getFn    func(ctx context.Context, ownerID, taskID string) (*model.Task, error)
	createFn func(ctx context.Context, ownerID string, input task.CreateInput) (*model.Task, error)
	updateFn func(ctx context.Context, ownerID, taskID string, input task.UpdateInput) (*model.Task, error)
	deleteFn func(ctx context.Context, ownerID, taskID string) error
	statsFn  func(ctx context.Context, ownerID string) (*model.TaskStats, error)
}

func (m *mockTaskService) List(ctx context.Context, ownerID string, params task.ListParams) (*task.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, params)
	}
	return &task.ListResult{Page: 1, Limit: 10}, nil
}

func (m *mockTaskService) Get(ctx context.Context, ownerID, taskID string) (*model.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID, taskID)
	}
	return nil, model.NewTaskNotFoundError()
}

func (m *mockTaskService) Create(ctx context.Context, ownerID string, input task.CreateInput) (*model.Task, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, input)
	}
	return nil, nil
}

func (m *mockTaskService) Update(ctx context.Context, ownerID, taskID string, input task.UpdateInput) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, taskID, input)
	}
	return nil, model.NewTaskNotFoundError()
}

func (m *mockTaskService) Delete(ctx context.Context, ownerID, taskID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, taskID)
	}
	return nil
}

func (m *mockTaskService) Stats(ctx context.Context, ownerID string) (*model.TaskStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, ownerID)
	}
	return &model.TaskStats{}, nil
}

type mockAuthEventRecorder struct {
	events []string
}

func (m *mockAuthEventRecorder) RecordAuthEvent(event, outcome string) {
	m.events = append(m.events, event+":"+outcome)
}

// --- ヘルパー ---

// newJSONRequest はJSONボディ付きのリクエストを生成する。
func newJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withUser は認証ゲートウェイを通過した状態のリクエストを返す。
func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithIdentity(req.Context(), &model.User{ID: userID}))
}

// withURLParam はchiのURLパラメータを設定したリクエストを返す。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody はレスポンスボディをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

// assertError はエラーレスポンスのステータスとメッセージを検証する。
func assertError(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantMessage string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["message"] != wantMessage {
		t.Errorf("message = %v, want %q", body["message"], wantMessage)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockundo/internal/auth"
	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/network"
	"github.com/annel0/blockundo/internal/undo"
	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/vec"
	"github.com/annel0/blockundo/internal/world"
	"github.com/annel0/blockundo/internal/world/block"
)

func TestMain(m *testing.M) {
	logging.LogDir = ""
	os.Exit(m.Run())
}

type apiEnv struct {
	server *RestServer
	svc    *undo.Service
	main   *world.Level
	sink   *network.MemorySink
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	table := block.DefaultTable()
	store := undo.NewStore(t.TempDir(), format.NewRegistry(table), 0)
	require.NoError(t, store.EnsureDirs())

	levels := world.NewLevels()
	main := world.NewLevel("main", 8, 8, 8, table)
	levels.Add(main)

	sink := &network.MemorySink{}
	senders := func(actor world.Actor) undo.Sender {
		target := ""
		if actor != nil {
			target = actor.Name()
		}
		return network.NewBlockSender(sink, target, 16)
	}
	engine := undo.NewEngine(store, table, undo.LevelsFinder(levels), senders, nil)
	svc := undo.NewService(store, engine, nil, 0)

	adminHash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	modHash, err := auth.HashPassword("mod-pass")
	require.NoError(t, err)

	server := NewRestServer(Config{
		Service: svc,
		Issuer:  auth.NewTokenIssuer(nil, time.Hour),
		Operators: auth.Operators{
			"admin": {PasswordHash: adminHash, IsAdmin: true},
			"mod":   {PasswordHash: modHash},
		},
		Registry: prometheus.NewRegistry(),
	})
	return &apiEnv{server: server, svc: svc, main: main, sink: sink}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var resp GenericResponse
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func (e *apiEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: user, Password: pass})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// seed пишет правку игрока alice на диск: камень на месте воздуха
func (e *apiEnv) seed(t *testing.T) {
	t.Helper()
	e.main.SetTile(1, 1, 1, block.StoneBlockID)
	e.svc.Append("alice", format.Record{
		Map:     "main",
		Pos:     vec.Vec3{X: 1, Y: 1, Z: 1},
		Type:    block.AirBlockID,
		NewType: block.StoneBlockID,
		Time:    time.Now().Add(-time.Minute).Truncate(time.Second),
	})
	_, err := e.svc.Flush(context.Background(), "alice")
	require.NoError(t, err)
}

func TestRestServer_HealthAndLogin(t *testing.T) {
	e := newAPIEnv(t)

	w, _ := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := e.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)

	w, _ = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.NotEmpty(t, e.login(t, "admin", "admin-pass"))
}

func TestRestServer_RequiresToken(t *testing.T) {
	e := newAPIEnv(t)

	w, _ := e.do(t, http.MethodGet, "/api/players", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/players", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	modToken := e.login(t, "mod", "mod-pass")
	w, _ = e.do(t, http.MethodPost, "/api/admin/undo", modToken, ReplayRequest{Player: "alice"})
	assert.Equal(t, http.StatusForbidden, w.Code, "откат доступен только администратору")
}

func TestRestServer_PlayersFilesAndStatus(t *testing.T) {
	e := newAPIEnv(t)
	e.seed(t)
	token := e.login(t, "mod", "mod-pass")

	w, resp := e.do(t, http.MethodGet, "/api/players", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, []interface{}{"alice"}, data["current"])
	assert.Equal(t, []interface{}{}, data["previous"])

	w, resp = e.do(t, http.MethodGet, "/api/players/alice/files", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	files := resp.Data.([]interface{})
	require.Len(t, files, 1)
	assert.Equal(t, "current", files[0].(map[string]interface{})["generation"])

	w, _ = e.do(t, http.MethodGet, "/api/players/bob/files", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = e.do(t, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := resp.Data.(map[string]interface{})
	assert.Equal(t, []interface{}{"alice"}, status["current"])
	assert.NotEmpty(t, status["uptime"])
}

func TestRestServer_HighlightDoesNotMutate(t *testing.T) {
	e := newAPIEnv(t)
	e.seed(t)
	token := e.login(t, "mod", "mod-pass")

	w, resp := e.do(t, http.MethodPost, "/api/highlight", token, ReplayRequest{Player: "alice", Since: "1h"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, block.StoneBlockID, e.main.GetTile(1, 1, 1))

	updates := e.sink.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, block.GreenBlockID, updates[0].ID)

	w, _ = e.do(t, http.MethodPost, "/api/highlight", token, ReplayRequest{Player: "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/highlight", token, ReplayRequest{Player: "alice", Region: "1,2,3"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestServer_AdminUndoAndRotate(t *testing.T) {
	e := newAPIEnv(t)
	e.seed(t)
	token := e.login(t, "admin", "admin-pass")

	w, resp := e.do(t, http.MethodPost, "/api/admin/undo", token, ReplayRequest{Player: "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, block.AirBlockID, e.main.GetTile(1, 1, 1))
	assert.EqualValues(t, 1, resp.Data.(map[string]interface{})["Applied"])

	w, resp = e.do(t, http.MethodPost, "/api/admin/rotate", token, RotateRequest{Force: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["rotated"])

	players, err := e.svc.Store().Players(undo.Previous)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, players)

	w, resp = e.do(t, http.MethodPost, "/api/admin/upgrade/alice", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]interface{})["Found"], "устаревших файлов нет")
}

package web_test

import (
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/previewkit/kiln/adapters/clock"
	"github.com/previewkit/kiln/adapters/idgen"
	"github.com/previewkit/kiln/adapters/memory"
	"github.com/previewkit/kiln/adapters/metrics"
	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/domain/build"
	"github.com/previewkit/kiln/ports"
	"github.com/previewkit/kiln/web"
)

func dialChannel(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/channel"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// readUntil consumes messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()

	for i := 0; i < 32; i++ {
		msg := readMsg(t, conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("no %s message within 32 reads", msgType)
	return nil
}

func sendMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expectSilence asserts no frame arrives within the window. The read
// deadline poisons the connection, so this must be the last read on it.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(window))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
}

func register(t *testing.T, conn *websocket.Conn, id int64) {
	t.Helper()

	if msg := readMsg(t, conn); msg["type"] != "connected" {
		t.Fatalf("first message = %v, want connected", msg["type"])
	}
	sendMsg(t, conn, map[string]any{"type": "register", "channelId": id})
}

func TestChannel_AnnouncesReadiness(t *testing.T) {
	env := newTestEnv(t, &stubEngine{})
	conn := dialChannel(t, env)

	msg := readMsg(t, conn)
	if msg["type"] != "connected" {
		t.Errorf("type = %v, want connected", msg["type"])
	}
	if _, ok := msg["channelId"]; ok {
		t.Errorf("connected carries a channelId before registration: %v", msg)
	}
}

func TestChannel_CompileLifecycle(t *testing.T) {
	env := newTestEnv(t, &stubEngine{js: "console.log(1)"})
	conn := dialChannel(t, env)
	register(t, conn, 7)

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 7,
		"modules":   map[string]string{"index.ts": "console.log(1)"},
		"options":   map[string]any{"target": "es2020"},
	})

	start := readUntil(t, conn, "start")
	if start["firstLoad"] != true {
		t.Errorf("firstLoad = %v, want true", start["firstLoad"])
	}
	if start["channelId"] != float64(7) {
		t.Errorf("channelId = %v, want 7", start["channelId"])
	}

	status := readUntil(t, conn, "status")
	if phase, _ := status["phase"].(string); phase == "" {
		t.Errorf("status message without phase: %v", status)
	}

	done := readUntil(t, conn, "done")
	if done["failed"] != false {
		t.Errorf("failed = %v, want false", done["failed"])
	}
	if done["channelId"] != float64(7) {
		t.Errorf("channelId = %v, want 7", done["channelId"])
	}

	urlchange := readUntil(t, conn, "urlchange")
	url, _ := urlchange["url"].(string)
	if !strings.HasPrefix(url, "/preview?v=") {
		t.Errorf("url = %q, want /preview?v= prefix", url)
	}
}

func TestChannel_SecondCompileIsNotFirstLoad(t *testing.T) {
	env := newTestEnv(t, &stubEngine{js: "x"})
	conn := dialChannel(t, env)
	register(t, conn, 1)

	compile := map[string]any{
		"type":      "compile",
		"channelId": 1,
		"modules":   map[string]string{"/index.ts": "export {}"},
	}

	sendMsg(t, conn, compile)
	readUntil(t, conn, "done")

	sendMsg(t, conn, compile)
	start := readUntil(t, conn, "start")
	if start["firstLoad"] != false {
		t.Errorf("firstLoad = %v, want false on rebuild", start["firstLoad"])
	}
}

func TestChannel_MismatchedIDProducesNoResponse(t *testing.T) {
	eng := &stubEngine{js: "x"}
	env := newTestEnv(t, eng)
	conn := dialChannel(t, env)
	register(t, conn, 1)

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 2,
		"modules":   map[string]string{"/index.ts": "export {}"},
	})

	expectSilence(t, conn, 300*time.Millisecond)
	if n := eng.callCount(); n != 0 {
		t.Errorf("engine called %d times for a foreign message", n)
	}
}

func TestChannel_CompileBeforeRegisterIgnored(t *testing.T) {
	eng := &stubEngine{js: "x"}
	env := newTestEnv(t, eng)
	conn := dialChannel(t, env)

	if msg := readMsg(t, conn); msg["type"] != "connected" {
		t.Fatalf("first message = %v, want connected", msg["type"])
	}
	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 5,
		"modules":   map[string]string{"/index.ts": "export {}"},
	})

	expectSilence(t, conn, 300*time.Millisecond)
	if n := eng.callCount(); n != 0 {
		t.Errorf("engine called %d times before registration", n)
	}
}

func TestChannel_MalformedFrameIgnored(t *testing.T) {
	env := newTestEnv(t, &stubEngine{js: "x"})
	conn := dialChannel(t, env)

	if msg := readMsg(t, conn); msg["type"] != "connected" {
		t.Fatalf("first message = %v, want connected", msg["type"])
	}

	// Garbage must neither close the connection nor produce a reply; the
	// next thing the host hears is the start of its own compile.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	sendMsg(t, conn, map[string]any{"type": "register", "channelId": 9})
	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 9,
		"modules":   map[string]string{"/index.ts": "export {}"},
	})

	msg := readMsg(t, conn)
	if msg["type"] != "start" {
		t.Errorf("first message after garbage = %v, want start", msg["type"])
	}
}

func TestChannel_BuildFailureShowsError(t *testing.T) {
	eng := &stubEngine{err: &build.Error{
		Title:   "Build failed",
		Message: "Unexpected token",
		File:    "/index.ts",
		Line:    3,
		Column:  7,
	}}
	env := newTestEnv(t, eng)
	conn := dialChannel(t, env)
	register(t, conn, 4)

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 4,
		"modules":   map[string]string{"/index.ts": "const = 1"},
	})

	action := readUntil(t, conn, "action")
	if action["action"] != "show-error" {
		t.Errorf("action = %v, want show-error", action["action"])
	}
	if action["title"] != "Build failed" {
		t.Errorf("title = %v", action["title"])
	}
	if action["file"] != "/index.ts" || action["line"] != float64(3) || action["column"] != float64(7) {
		t.Errorf("location = %v:%v:%v, want /index.ts:3:7", action["file"], action["line"], action["column"])
	}

	done := readUntil(t, conn, "done")
	if done["failed"] != true {
		t.Errorf("failed = %v, want true", done["failed"])
	}
}

func TestChannel_GetModules(t *testing.T) {
	env := newTestEnv(t, &stubEngine{js: "x"})
	conn := dialChannel(t, env)
	register(t, conn, 3)

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 3,
		"modules":   map[string]string{"app.tsx": "export {}", "/styles.css": "body{}"},
	})
	readUntil(t, conn, "done")

	sendMsg(t, conn, map[string]any{"type": "get-modules", "channelId": 3})

	msg := readUntil(t, conn, "all-modules")
	var got map[string]string
	raw, _ := json.Marshal(msg["modules"])
	json.Unmarshal(raw, &got)

	// Submitted paths come back normalized.
	want := map[string]string{"/app.tsx": "export {}", "/styles.css": "body{}"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("modules = %v, want %v", got, want)
	}
}

func TestChannel_GetTranspilerContext(t *testing.T) {
	env := newTestEnv(t, &stubEngine{})
	conn := dialChannel(t, env)
	register(t, conn, 2)

	sendMsg(t, conn, map[string]any{"type": "get-transpiler-context", "channelId": 2})

	msg := readUntil(t, conn, "transpiler-context")
	ctx, ok := msg["context"].(map[string]any)
	if !ok || len(ctx) != 0 {
		t.Errorf("context = %v, want empty object", msg["context"])
	}
}

func TestChannel_RefreshReplaysPreviewURL(t *testing.T) {
	env := newTestEnv(t, &stubEngine{js: "x"})
	conn := dialChannel(t, env)
	register(t, conn, 6)

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 6,
		"modules":   map[string]string{"/index.ts": "export {}"},
	})
	first := readUntil(t, conn, "urlchange")

	sendMsg(t, conn, map[string]any{"type": "refresh", "channelId": 6})
	second := readUntil(t, conn, "urlchange")

	if first["url"] != second["url"] {
		t.Errorf("refresh url = %v, want %v", second["url"], first["url"])
	}
}

func TestChannel_LatestWinsOverSocket(t *testing.T) {
	eng := &stubEngine{js: "x", gate: make(chan struct{})}
	env := newTestEnv(t, eng)
	conn := dialChannel(t, env)
	register(t, conn, 1)

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 1,
		"modules":   map[string]string{"/a.ts": "export {}"},
	})

	waitUntil(t, func() bool { return eng.callCount() == 1 })

	sendMsg(t, conn, map[string]any{
		"type":      "compile",
		"channelId": 1,
		"modules":   map[string]string{"/b.ts": "export {}"},
	})

	waitUntil(t, func() bool { return env.builds.State() == app.StateBuildingPending })
	close(eng.gate)

	// Exactly one done may arrive: the first build's result is discarded
	// when the queued job supersedes it.
	dones := 0
	for {
		conn.SetReadDeadline(time.Now().Add(700 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if msg["type"] == "done" {
			dones++
		}
	}

	if dones != 1 {
		t.Errorf("done messages = %d, want exactly 1", dones)
	}
	if n := eng.callCount(); n != 2 {
		t.Errorf("engine calls = %d, want 2", n)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestChannel_TracksActiveChannels(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewWithRegistry(reg)

	store := memory.NewFileStore()
	builds := app.NewBuildService(
		store,
		&stubEngine{js: "x"},
		clock.NewFake(time.Now()),
		idgen.NewSequential("job"),
		zerolog.Nop(),
		app.BuildConfig{},
	)
	t.Cleanup(builds.Stop)

	handler, err := web.NewHandler(web.Deps{
		Builds:  builds,
		Store:   store,
		Metrics: collector,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewHandler error: %v", err)
	}
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	env := &testEnv{handler: handler, builds: builds, store: store, server: server}
	conn := dialChannel(t, env)
	register(t, conn, 11)

	waitUntil(t, func() bool { return gaugeValue(t, reg, "kiln_active_channels") == 1 })

	conn.Close()
	waitUntil(t, func() bool { return gaugeValue(t, reg, "kiln_active_channels") == 0 })
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

var _ ports.Engine = (*stubEngine)(nil)

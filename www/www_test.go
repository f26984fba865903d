package www

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/bus"
	"fleetwatch/config"
	"fleetwatch/engine"
	"fleetwatch/logbuf"
	"fleetwatch/store"
)

type testServer struct {
	*httptest.Server
	eng   *engine.Engine
	logs  *logbuf.Ring
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	cfg := config.Defaults()
	cfg.Simulation.Enabled = false
	cfg.Simulation.Interval = time.Hour
	cfg.Dispatch.Steps = 2
	cfg.Dispatch.StepDelay = 200 * time.Millisecond

	b := bus.NewMemory(t.Logf)
	eng := engine.New(engine.Config{AppConfig: cfg, DB: db, Bus: b, LogFunc: t.Logf})
	logs := logbuf.New(100)
	ctx, cancel := context.WithCancel(context.Background())
	handler, stop := NewRouter(ctx, eng, logs)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		stop()
		cancel()
		eng.Stop()
		b.Close()
		db.Close()
	})

	ts := &testServer{Server: srv, eng: eng, logs: logs}
	var login struct {
		Token string `json:"token"`
	}
	code := ts.do(t, "POST", "/api/auth/login", map[string]string{
		"email": cfg.Auth.DemoEmail, "password": cfg.Auth.DemoPassword,
	}, &login)
	if code != http.StatusOK || login.Token == "" {
		t.Fatalf("demo login: %d %+v", code, login)
	}
	ts.token = login.Token
	return ts
}

// do sends body as JSON with the server's token and decodes the reply into
// out when it is non-nil.
func (ts *testServer) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	return ts.doAs(t, ts.token, method, path, body, out)
}

func (ts *testServer) doAs(t *testing.T, token, method, path string, body, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	Error string `json:"error"`
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	var e errorBody
	if code := ts.doAs(t, "", "POST", "/api/auth/login", map[string]string{"email": "admin@test.com", "password": "nope"}, &e); code != 401 || e.Error != "Invalid credentials" {
		t.Errorf("bad password: %d %q", code, e.Error)
	}
	if code := ts.doAs(t, "", "POST", "/api/auth/login", map[string]string{"email": "admin@test.com"}, &e); code != 400 || e.Error != "Email and password required" {
		t.Errorf("missing password: %d %q", code, e.Error)
	}

	var reg struct {
		User  userView `json:"user"`
		Token string   `json:"token"`
	}
	if code := ts.doAs(t, "", "POST", "/api/auth/register", map[string]string{"email": "ops@test.com", "password": "pw", "name": "Ops"}, &reg); code != 201 {
		t.Fatalf("register: %d", code)
	}
	if reg.User.Email != "ops@test.com" || reg.User.Name != "Ops" || reg.Token == "" {
		t.Errorf("register reply = %+v", reg)
	}
	if code := ts.doAs(t, "", "POST", "/api/auth/register", map[string]string{"email": "ops@test.com", "password": "pw"}, &e); code != 409 || e.Error != "Email already registered" {
		t.Errorf("duplicate register: %d %q", code, e.Error)
	}

	if code := ts.doAs(t, "", "GET", "/api/auth/me", nil, &e); code != 401 || e.Error != "No token provided" {
		t.Errorf("me without token: %d %q", code, e.Error)
	}
	if code := ts.doAs(t, "garbage", "GET", "/api/auth/me", nil, &e); code != 401 || e.Error != "Invalid token" {
		t.Errorf("me with bad token: %d %q", code, e.Error)
	}
	var me struct {
		User userView `json:"user"`
	}
	if code := ts.doAs(t, reg.Token, "GET", "/api/auth/me", nil, &me); code != 200 || me.User.ID != reg.User.ID {
		t.Errorf("me: %d %+v", code, me)
	}
}

func TestRobotAPI(t *testing.T) {
	ts := newTestServer(t)

	var e errorBody
	if code := ts.do(t, "POST", "/api/robots", map[string]any{"name": ""}, &e); code != 400 || e.Error != "Robot name required" {
		t.Errorf("empty name: %d %q", code, e.Error)
	}

	var created struct {
		Robot store.Robot `json:"robot"`
	}
	if code := ts.do(t, "POST", "/api/robots", map[string]any{"name": "R1", "lat": 52.5, "lon": 13.4}, &created); code != 201 {
		t.Fatalf("create: %d", code)
	}
	r := created.Robot
	if r.Name != "R1" || r.Battery != 100 || r.Lat != 52.5 {
		t.Errorf("created = %+v", r)
	}

	var got struct {
		Robot store.Robot `json:"robot"`
	}
	path := fmt.Sprintf("/api/robots/%d", r.ID)
	if code := ts.do(t, "PATCH", path, map[string]any{"status": "offline"}, &got); code != 200 || got.Robot.Status != store.StatusOffline {
		t.Errorf("patch: %d %+v", code, got.Robot)
	}
	if code := ts.do(t, "PATCH", path, map[string]any{"status": "flying"}, &e); code != 400 {
		t.Errorf("bad status: %d %q", code, e.Error)
	}
	if code := ts.do(t, "PATCH", path, map[string]any{}, &e); code != 400 || e.Error != "No updates provided" {
		t.Errorf("empty patch: %d %q", code, e.Error)
	}
	if code := ts.do(t, "GET", "/api/robots/9999", nil, &e); code != 404 || e.Error != "Robot not found" {
		t.Errorf("missing robot: %d %q", code, e.Error)
	}
	if code := ts.do(t, "GET", "/api/robots/abc", nil, &e); code != 400 {
		t.Errorf("bad id: %d", code)
	}

	var list struct {
		Robots []store.Robot `json:"robots"`
	}
	if code := ts.do(t, "GET", "/api/robots", nil, &list); code != 200 || len(list.Robots) != 1 {
		t.Errorf("list: %d %d robots", code, len(list.Robots))
	}

	var moved struct {
		Robot store.Robot `json:"robot"`
	}
	if code := ts.do(t, "POST", path+"/move", nil, &moved); code != 200 {
		t.Errorf("move: %d", code)
	}
	var trail struct {
		Trail []store.PositionSample `json:"trail"`
	}
	if code := ts.do(t, "GET", path+"/trail?duration=60", nil, &trail); code != 200 || len(trail.Trail) < 1 {
		t.Errorf("trail: %d %d samples", code, len(trail.Trail))
	}

	if code := ts.do(t, "DELETE", path, nil, nil); code != 200 {
		t.Errorf("delete: %d", code)
	}
	if code := ts.do(t, "GET", path, nil, &e); code != 404 {
		t.Errorf("after delete: %d", code)
	}
}

func TestPatrolAPI(t *testing.T) {
	ts := newTestServer(t)
	var created struct {
		Robot store.Robot `json:"robot"`
	}
	ts.do(t, "POST", "/api/robots", map[string]any{"name": "P1"}, &created)
	base := fmt.Sprintf("/api/robots/%d", created.Robot.ID)

	var e errorBody
	if code := ts.do(t, "POST", base+"/routes", map[string]any{"waypoints": []map[string]float64{{"lat": 1, "lon": 1}}}, &e); code != 400 || e.Error != "At least 2 valid waypoints required" {
		t.Errorf("short route: %d %q", code, e.Error)
	}

	var route struct {
		Route store.PatrolRoute `json:"route"`
	}
	wps := []map[string]float64{{"lat": 52.5, "lon": 13.4}, {"lat": 52.51, "lon": 13.41}, {"lat": 52.5, "lon": 13.42}}
	if code := ts.do(t, "POST", base+"/patrol", map[string]any{"waypoints": wps}, &route); code != 200 || !route.Route.IsActive {
		t.Fatalf("set patrol: %d %+v", code, route.Route)
	}
	var routes struct {
		Routes []store.PatrolRoute `json:"routes"`
	}
	if code := ts.do(t, "GET", base+"/routes", nil, &routes); code != 200 || len(routes.Routes) != 1 {
		t.Errorf("routes: %d %d", code, len(routes.Routes))
	}
	outOfRange := map[string]any{"waypoints": [][]float64{{91, 0}, {0, 0}}}
	if code := ts.do(t, "POST", base+"/routes", outOfRange, &e); code != 400 || !strings.Contains(e.Error, "waypoint 0 out of range") {
		t.Errorf("out of range create: %d %q", code, e.Error)
	}
	routePath := fmt.Sprintf("%s/routes/%d", base, route.Route.ID)
	if code := ts.do(t, "PATCH", routePath, outOfRange, &e); code != 400 || !strings.Contains(e.Error, "waypoint 0 out of range") {
		t.Errorf("out of range update: %d %q", code, e.Error)
	}
	var ok struct {
		Success bool `json:"success"`
	}
	if code := ts.do(t, "DELETE", base+"/patrol", nil, &ok); code != 200 || !ok.Success {
		t.Errorf("clear patrol: %d %+v", code, ok)
	}
	if code := ts.do(t, "POST", base+"/assign-zone", map[string]any{}, &e); code != 400 || e.Error != "Zone ID required" {
		t.Errorf("assign without zone: %d %q", code, e.Error)
	}
}

func TestAlarmDispatchAPI(t *testing.T) {
	ts := newTestServer(t)
	var created struct {
		Robot store.Robot `json:"robot"`
	}
	ts.do(t, "POST", "/api/robots", map[string]any{"name": "D1", "lat": 52.0, "lon": 13.0}, &created)

	var e errorBody
	if code := ts.do(t, "POST", "/api/events/alarm", map[string]any{"lat": 52.1}, &e); code != 400 || e.Error != "Valid lat/lon required" {
		t.Errorf("alarm without lon: %d %q", code, e.Error)
	}
	var alarm struct {
		Event store.Event `json:"event"`
	}
	if code := ts.do(t, "POST", "/api/events/alarm", map[string]any{"lat": 52.1, "lon": 13.0}, &alarm); code != 201 {
		t.Fatalf("alarm: %d", code)
	}

	var out struct {
		Event    store.Event     `json:"event"`
		Robot    store.Robot     `json:"robot"`
		Dispatch json.RawMessage `json:"dispatch"`
	}
	path := fmt.Sprintf("/api/events/%d/dispatch", alarm.Event.ID)
	if code := ts.do(t, "POST", path, nil, &out); code != 200 || out.Robot.ID != created.Robot.ID {
		t.Fatalf("dispatch closest: %d %+v", code, out.Robot)
	}
	if code := ts.do(t, "POST", path, nil, &e); code != 404 || e.Error != "No available robots" {
		t.Errorf("second dispatch: %d %q", code, e.Error)
	}
	direct := fmt.Sprintf("/api/robots/%d/dispatch", created.Robot.ID)
	if code := ts.do(t, "POST", direct, map[string]any{"lat": 52.2, "lon": 13.0}, &e); code != 409 || e.Error != "Robot is already dispatching" {
		t.Errorf("direct dispatch while busy: %d %q", code, e.Error)
	}

	var list struct {
		Events []store.Event `json:"events"`
		Total  int           `json:"total"`
		Limit  int           `json:"limit"`
	}
	if code := ts.do(t, "GET", "/api/events?type=alarm_triggered", nil, &list); code != 200 || list.Total != 1 || list.Limit != 50 {
		t.Errorf("events: %d total=%d limit=%d", code, list.Total, list.Limit)
	}
}

func TestSimulationAPI(t *testing.T) {
	ts := newTestServer(t)

	var status struct {
		IsRunning bool           `json:"isRunning"`
		Config    map[string]any `json:"config"`
	}
	if code := ts.doAs(t, "", "GET", "/api/simulation/status", nil, &status); code != 200 || status.IsRunning {
		t.Errorf("status: %d %+v", code, status)
	}
	if code := ts.doAs(t, "", "POST", "/api/simulation/start", nil, nil); code != 401 {
		t.Errorf("anonymous start: %d", code)
	}

	var reply struct {
		Message string `json:"message"`
		Status  struct {
			IsRunning bool `json:"isRunning"`
		} `json:"status"`
	}
	if code := ts.do(t, "POST", "/api/simulation/start", nil, &reply); code != 200 || reply.Message != "Simulation started" || !reply.Status.IsRunning {
		t.Errorf("start: %d %+v", code, reply)
	}
	if code := ts.do(t, "PATCH", "/api/simulation/config", map[string]any{"intervalMs": 500, "moveRadius": 0.002}, &reply); code != 200 || reply.Message != "Config updated" {
		t.Errorf("config: %d %+v", code, reply)
	}
	if got := ts.eng.AppConfig().SimulationSnapshot(); got.Interval != 500*time.Millisecond || got.MoveRadius != 0.002 {
		t.Errorf("config after patch = %+v", got)
	}
	if code := ts.do(t, "POST", "/api/simulation/stop", nil, &reply); code != 200 || reply.Status.IsRunning {
		t.Errorf("stop: %d %+v", code, reply)
	}
}

func TestMiscEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]any
	if code := ts.doAs(t, "", "GET", "/health", nil, &health); code != 200 || health["status"] != "ok" {
		t.Errorf("health: %d %v", code, health)
	}
	var e errorBody
	if code := ts.doAs(t, "", "GET", "/nowhere", nil, &e); code != 404 || e.Error != "Not found" {
		t.Errorf("unknown path: %d %q", code, e.Error)
	}

	ts.logs.Write([]byte("hello from the log\n"))
	var logs struct {
		Logs []logbuf.Entry `json:"logs"`
	}
	if code := ts.do(t, "GET", "/api/logs?limit=5", nil, &logs); code != 200 || len(logs.Logs) == 0 {
		t.Fatalf("logs: %d %d", code, len(logs.Logs))
	}
	if !strings.Contains(logs.Logs[0].Message, "hello from the log") {
		t.Errorf("newest log line = %q", logs.Logs[0].Message)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
}

// --- Websocket gateway ---

func dialWS(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readType reads until a message of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestGatewayProtocol(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	conn.WriteJSON(map[string]any{"type": "ping"})
	if msg := readType(t, conn, "error"); msg["error"] != "Not authenticated" {
		t.Errorf("unauthenticated ping = %v", msg)
	}

	conn.WriteJSON(map[string]any{"type": "auth", "token": "bogus"})
	if msg := readType(t, conn, "auth_error"); msg["error"] != "Invalid token" {
		t.Errorf("bad auth = %v", msg)
	}

	conn.WriteJSON(map[string]any{"type": "auth", "token": ts.token})
	ok := readType(t, conn, "auth_success")
	if _, has := ok["serverTime"]; !has {
		t.Errorf("auth_success without serverTime: %v", ok)
	}
	if p := readType(t, conn, "presence"); p["operatorsOnline"] != float64(1) {
		t.Errorf("presence = %v", p)
	}

	conn.WriteJSON(map[string]any{"type": "ping"})
	if pong := readType(t, conn, "pong"); pong["timestamp"] == nil {
		t.Errorf("pong = %v", pong)
	}

	conn.WriteJSON(map[string]any{"type": "focus", "robotId": 42})
	st := readType(t, conn, "ops_state")
	for st["focusCounts"].(map[string]any)["42"] != float64(1) {
		st = readType(t, conn, "ops_state")
	}
	if got := ts.eng.PresenceState().FocusCounts["42"]; got != 1 {
		t.Errorf("focus count = %d", got)
	}
}

func TestGatewayRelaysRobotUpdates(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)
	conn.WriteJSON(map[string]any{"type": "auth", "token": ts.token})
	readType(t, conn, "auth_success")

	var created struct {
		Robot store.Robot `json:"robot"`
	}
	ts.do(t, "POST", "/api/robots", map[string]any{"name": "Relay"}, &created)
	ts.do(t, "PATCH", fmt.Sprintf("/api/robots/%d", created.Robot.ID), map[string]any{"battery": 55}, nil)

	msg := readType(t, conn, "robot_update")
	robot, _ := msg["robot"].(map[string]any)
	if robot["name"] != "Relay" || robot["battery"] != float64(55) {
		t.Errorf("robot_update = %v", msg)
	}
	if _, has := msg["serverTime"]; !has {
		t.Errorf("relayed message without serverTime: %v", msg)
	}
}

func TestGatewayPresenceOnClose(t *testing.T) {
	ts := newTestServer(t)
	watcher := dialWS(t, ts)
	watcher.WriteJSON(map[string]any{"type": "auth", "token": ts.token})
	readType(t, watcher, "auth_success")

	var reg struct {
		Token string `json:"token"`
	}
	ts.doAs(t, "", "POST", "/api/auth/register", map[string]string{"email": "second@test.com", "password": "pw"}, &reg)
	other := dialWS(t, ts)
	other.WriteJSON(map[string]any{"type": "auth", "token": reg.Token})
	readType(t, other, "auth_success")

	p := readType(t, watcher, "presence")
	for p["operatorsOnline"] != float64(2) {
		p = readType(t, watcher, "presence")
	}

	other.Close()
	p = readType(t, watcher, "presence")
	for p["operatorsOnline"] != float64(1) {
		p = readType(t, watcher, "presence")
	}
}

func TestSSEMirrorsRobotUpdates(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sse connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var created struct {
		Robot store.Robot `json:"robot"`
	}
	ts.do(t, "POST", "/api/robots", map[string]any{"name": "Mirror"}, &created)
	ts.do(t, "PATCH", fmt.Sprintf("/api/robots/%d", created.Robot.ID), map[string]any{"battery": 80}, nil)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() != "event: robot-update" {
			continue
		}
		if !sc.Scan() || !strings.Contains(sc.Text(), `"name":"Mirror"`) {
			t.Fatalf("robot-update data = %q", sc.Text())
		}
		return
	}
	t.Fatalf("stream ended without robot-update: %v", sc.Err())
}

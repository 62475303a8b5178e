package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forager/server/fastview"
	"forager/simulation"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var testRates = fastview.Rates{
	Ping:     time.Millisecond * 50,
	PongWait: time.Second,
	Write:    time.Second,
}

func newTestSimulation() *simulation.Simulation {
	cfg := simulation.DefaultConfig()
	cfg.StatusInterval = 0
	cfg.World.Width, cfg.World.Height = 4, 3
	cfg.World.PatchMeans = [][]float64{{1, 1}}
	cfg.World.PatchVars = [][]float64{{0.75, 0.75}}
	cfg.World.EvalEpisodes = 2
	cfg.World.EvalSteps = 2
	for i := range cfg.Agents {
		cfg.Agents[i].MaxSteps = 4
	}
	sim, err := simulation.New(cfg, quiet)
	if err != nil {
		panic(err)
	}
	return sim
}

func TestServer(t *testing.T) {
	Convey("Server tests", t, func() {
		dataDir := filepath.Join(t.TempDir(), "participantData")
		server, err := NewServer(Config{DataDir: dataDir, Rates: testRates}, nil, quiet)
		So(err, ShouldBeNil)
		handler := server.Handler()

		do := func(method, target, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, target, strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}
		decode := func(rec *httptest.ResponseRecorder) map[string]any {
			var out map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &out), ShouldBeNil)
			return out
		}

		Convey("The data folder is created", func() {
			info, err := os.Stat(dataDir)
			So(err, ShouldBeNil)
			So(info.IsDir(), ShouldBeTrue)
		})

		Convey("GET requests are acknowledged with permissive CORS", func() {
			rec := do(http.MethodGet, "/", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "<p>Hello, World!</p>")
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")

			rec = do(http.MethodGet, "/api", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "I received a GET request!")
		})

		Convey("Preflight requests are answered without a body", func() {
			rec := do(http.MethodOptions, "/api", "")
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(rec.Body.Len(), ShouldEqual, 0)
			So(rec.Header().Get("Access-Control-Allow-Methods"), ShouldContainSubstring, http.MethodPost)
		})

		Convey("Records are appended to the worker's file", func() {
			rec := do(http.MethodPost, "/api", `{"workerId": "w1", "content": {"trial": 1, "keys": ["a", "b"]}}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			path := filepath.Join(dataDir, "w1.jsonl")
			out := decode(rec)
			So(out["message"], ShouldEqual, "Data saved to file at "+path)
			So(out["data_saved"], ShouldResemble, map[string]any{"trial": 1.0, "keys": []any{"a", "b"}})
			So(out["request_data"].(map[string]any)["workerId"], ShouldEqual, "w1")

			rec = do(http.MethodPost, "/api", `{"workerId": "w1", "content": "second", "extra": true}`)
			So(rec.Code, ShouldEqual, http.StatusOK)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, `{"trial":1,"keys":["a","b"]}`+"\n"+`"second"`+"\n")
		})

		Convey("Bodies lacking a key are echoed but not saved", func() {
			for _, body := range []string{`{"workerId": "w1"}`, `{"content": 1}`, `{"workerId": 5, "content": 1}`, `[1, 2]`} {
				rec := do(http.MethodPost, "/api", body)
				So(rec.Code, ShouldEqual, http.StatusOK)
				out := decode(rec)
				So(out["message"], ShouldEqual, "I received a POST request!")
				So(out, ShouldNotContainKey, "data_saved")
				So(out, ShouldContainKey, "request_data")
			}
			entries, err := os.ReadDir(dataDir)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})

		Convey("Worker ids that are not plain file names are rejected", func() {
			for _, id := range []string{"", "..", "../escape", `a\b`} {
				body, _ := json.Marshal(map[string]any{"workerId": id, "content": 1})
				rec := do(http.MethodPost, "/api", string(body))
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(rec), ShouldContainKey, "error")
			}
			_, err := os.Stat(filepath.Join(filepath.Dir(dataDir), "escape.jsonl"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("Invalid json is a bad request", func() {
			rec := do(http.MethodPost, "/api", `{"workerId": `)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(rec)["error"], ShouldStartWith, "invalid json")
		})

		Convey("Oversized bodies are rejected", func() {
			rec := do(http.MethodPost, "/api", `"`+strings.Repeat("x", maxBodyBytes)+`"`)
			So(rec.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		})

		Convey("Without a simulation the live routes are not found", func() {
			So(do(http.MethodGet, "/live", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(http.MethodGet, "/ws", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestLiveView(t *testing.T) {
	Convey("Live view tests", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sim := newTestSimulation()
		snapshots := make(chan *simulation.Snapshot)
		live, err := NewLiveView(ctx, sim.Snapshot(), snapshots)
		So(err, ShouldBeNil)

		server, err := NewServer(Config{DataDir: t.TempDir(), Rates: testRates}, live, quiet)
		So(err, ShouldBeNil)
		srv := httptest.NewServer(server.Handler())
		defer srv.Close()

		Convey("The page renders both views and the websocket bootstrap", func() {
			resp, err := http.Get(srv.URL + "/live")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			page := string(body)
			So(page, ShouldContainSubstring, `id="valuesgrid"`)
			So(page, ShouldContainSubstring, `id="valuefunction"`)
			So(page, ShouldContainSubstring, `id="3-2-cell-rect"`)
			So(page, ShouldContainSubstring, `id="2-1-value-polygon"`)
			So(page, ShouldContainSubstring, `"/ws"`)
		})

		Convey("Snapshots are pushed over the websocket until the feed closes", func() {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			snapshots <- sim.Snapshot()
			close(snapshots)

			ids := map[string]bool{}
			for {
				var batch []fastview.EleUpdate
				if err = conn.ReadJSON(&batch); err != nil {
					break
				}
				for _, update := range batch {
					ids[update.EleId] = true
				}
			}
			So(websocket.IsCloseError(err, websocket.CloseNormalClosure), ShouldBeTrue)
			So(ids["valuesgrid-clock"], ShouldBeTrue)
			So(ids["0-0-value-polygon"], ShouldBeTrue)
			So(ids["agent-1"], ShouldBeTrue)
		})
	})
}

func TestSnapshotFeed(t *testing.T) {
	Convey("Snapshot feed tests", t, func() {
		sim := newTestSimulation()
		progressFn, snapshots, closeFn := SnapshotFeed(sim, 2)
		ctx := context.Background()

		Convey("Only every nth tick is published, and only when the last was read", func() {
			progressFn(ctx, 1)
			So(snapshots, ShouldHaveLength, 0)
			progressFn(ctx, 2)
			So(snapshots, ShouldHaveLength, 1)
			progressFn(ctx, 4)
			So(snapshots, ShouldHaveLength, 1)

			snap := <-snapshots
			So(snap.Width, ShouldEqual, 4)
			So(snap.Height, ShouldEqual, 3)
			So(snap.MaxQ, ShouldHaveLength, 12)

			progressFn(ctx, 6)
			So(snapshots, ShouldHaveLength, 1)
		})

		Convey("Closing ends the feed", func() {
			closeFn()
			_, ok := <-snapshots
			So(ok, ShouldBeFalse)
		})

		Convey("A running simulation feeds its snapshots", func() {
			results, err := sim.Run(ctx, progressFn)
			closeFn()
			So(err, ShouldBeNil)
			So(results.StopReason, ShouldEqual, simulation.COMPLETED)
			snap, ok := <-snapshots
			So(ok, ShouldBeTrue)
			So(snap.Tick%2, ShouldEqual, 0)
		})
	})
}

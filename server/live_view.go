package server

import (
	"context"
	"html/template"
	"io"
	"sync"
	"time"

	"forager/server/cell_views"
	"forager/server/fastview"
	"forager/simulation"
)

// LiveView is the page of a running simulation: the container for its view
// components and the wiring of their channels.
//
// The ele-update channel is consumed by a single websocket client at a time; a
// second client competes with the first for updates.
type LiveView struct {
	views   []fastview.ViewComponent
	updates <-chan []fastview.EleUpdate

	mu   sync.Mutex
	last cell_views.Grid
}

// NewLiveView builds the views of a simulation whose first snapshot is initial.
// Snapshots are read until the source closes or ctx ends.
func NewLiveView(
	ctx context.Context,
	initial *simulation.Snapshot,
	snapshots <-chan *simulation.Snapshot,
) (*LiveView, error) {
	lv := &LiveView{last: cell_views.Convert(initial)}

	views, err := fastview.NewViewBuilder[*simulation.Snapshot, cell_views.Grid]().
		WithContext(ctx).
		WithModel(snapshots, lv.convert).
		WithView(func(
			done <-chan struct{},
			grids <-chan cell_views.Grid) fastview.ViewComponent {
			return cell_views.NewValuesGrid(done, grids)
		}).
		WithView(func(
			done <-chan struct{},
			grids <-chan cell_views.Grid) fastview.ViewComponent {
			return cell_views.NewValueFunction(done, grids, initial.Width, initial.Height)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	lv.views = views
	lv.updates = fastview.FanIn(ctx.Done(), views, time.Millisecond*20)
	return lv, nil
}

// Records the latest grid so that a freshly loaded page starts from it.
func (lv *LiveView) convert(snap *simulation.Snapshot) cell_views.Grid {
	grid := cell_views.Convert(snap)
	lv.mu.Lock()
	lv.last = grid
	lv.mu.Unlock()
	return grid
}

// Updates returns the main ele-update channel for all the views.
func (lv *LiveView) Updates() <-chan []fastview.EleUpdate {
	return lv.updates
}

// Render writes the page for the latest grid.
func (lv *LiveView) Render(w io.Writer) error {
	t := template.New("index.html")
	name, err := lv.parse(t)
	if err != nil {
		return err
	}
	lv.mu.Lock()
	grid := lv.last
	lv.mu.Unlock()
	return t.ExecuteTemplate(w, name, grid)
}

// parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map that the child components depend on.
func (lv *LiveView) parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
		})

	var bodySpec string
	for _, vc := range lv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			return "", parseErr
		}
		bodySpec += `{{ template "` + tname + `" . }}`
	}

	// The main template bootstraps the rest: sets up client websocket and updates, aggregates views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<!--The client bootstrap code by which the server pushes new data to the view via websocket.-->
			<script>
				const ws = new WebSocket("ws://" + location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// When the server pushes view updates, find these eles and update them.
				ws.onmessage = function (event) {
					items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (!ele) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}
			</script>
		</head>
		<body>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

// SnapshotFeed returns a ProgressFunc publishing a snapshot of sim every `every`
// ticks, and the chan it publishes on. Snapshots are dropped while the previous one
// is unread, so the simulation never waits on the views. The chan is closed by
// calling the returned close func once the simulation has returned.
func SnapshotFeed(
	sim *simulation.Simulation,
	every int,
) (progressFn simulation.ProgressFunc, snapshots <-chan *simulation.Snapshot, closeFn func()) {
	feed := make(chan *simulation.Snapshot, 1)
	every = max(every, 1)
	progressFn = func(_ context.Context, tick int) {
		if tick%every != 0 || len(feed) > 0 {
			return
		}
		select {
		case feed <- sim.Snapshot():
		default:
		}
	}
	return progressFn, feed, func() { close(feed) }
}

package fastview

import (
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// FanIn aggregates the views' ele-update channels into a single channel whose
// output is batched per the passed rate.
func FanIn(
	done <-chan struct{},
	views []ViewComponent,
	rate time.Duration,
) <-chan []EleUpdate {
	inputs := make([]<-chan []EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return batchify(
		done,
		channerics.Merge(done, inputs...),
		rate)
}

// batchify batches within the passed time frame before sending, over-writing previously
// received values for the same ele-id. This ensures that redundant updates for the
// same ele-id are not sent, and only the latest values are sent. A pending batch is
// flushed when the source closes.
func batchify(
	done <-chan struct{},
	source <-chan []EleUpdate,
	rate time.Duration,
) <-chan []EleUpdate {
	output := make(chan []EleUpdate)

	go func() {
		defer close(output)

		data := map[string]EleUpdate{}
		order := []string{}
		send := func() bool {
			batch := make([]EleUpdate, 0, len(order))
			for _, id := range order {
				batch = append(batch, data[id])
			}
			select {
			case output <- batch:
				data = map[string]EleUpdate{}
				order = order[:0]
				return true
			case <-done:
				return false
			}
		}

		last := time.Time{}
		for updates := range channerics.OrDone(done, source) {
			// Intentionally overwrites pre-existing values for an ele-id within this batch's time frame.
			for _, update := range updates {
				if _, seen := data[update.EleId]; !seen {
					order = append(order, update.EleId)
				}
				data[update.EleId] = update
			}

			if time.Since(last) >= rate && len(order) > 0 {
				if !send() {
					return
				}
				last = time.Now()
			}
		}
		if len(order) > 0 {
			send()
		}
	}()

	return output
}

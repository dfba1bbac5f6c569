// Package eventloop runs node callbacks one at a time on a single goroutine.
//
// Every state change on the node (WiFi events, inbound MQTT messages,
// discovery windows closing, OTA completions) is posted to the Loop and
// executed serially, so the device state needs no locking. Blocking work runs
// in its own goroutine and posts its result back.
//
//	loop := eventloop.New(logger)
//	go loop.Run(ctx)
//
//	go func() {
//	    err := download(ctx)
//	    loop.Post(func() { onDownloaded(err) })
//	}()
//
// Timers armed with AfterFunc fire by posting to the loop. Stop guarantees
// the callback does not run afterwards, even if the fire was already queued.
package eventloop

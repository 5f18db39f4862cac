/*
Package mainloop abstracts "post this closure to the caller's thread".

The thumbnail dispatcher never calls completion callbacks from its worker
goroutines. It posts them through a Poster supplied at construction:

	loop := mainloop.NewLoop()
	go loop.Run(ctx)
	d := thumbnail.NewDispatcher(thumbnail.Config{Poster: loop, ...})

Loop runs closures one at a time on a single goroutine locked to its OS
thread, in posting order. Immediate runs them inline and is what the tests
use.
*/
package mainloop

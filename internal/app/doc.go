// Package app is the controller that sits between a user interface and the
// asset pipeline. It owns the database handle for the life of the process,
// runs each request on its own goroutine and delivers results as messages
// on a single Run loop.
package app

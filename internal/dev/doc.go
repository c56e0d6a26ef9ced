// Package dev runs the development session: it builds the project once,
// keeps the compiled server process alive behind a front proxy, swaps
// the process when the compiled output changes, and pushes reload
// notifications to connected browsers over a websocket.
package dev

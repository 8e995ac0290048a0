// Package server hosts the admin HTTP endpoints: metrics, health probes and
// operator controls.
//
// Handlers passed to New are wrapped so that every request carries an
// X-Request-ID (generated when the client sends none), is logged on
// completion and cannot crash the process by panicking:
//
//	srv := server.New(server.DefaultConfig("127.0.0.1:9090"), mux, logger)
//	go srv.Start(ctx) // returns after ctx is cancelled and the server drains
//	<-srv.Ready()
package server

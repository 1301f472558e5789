/*
Copyright © 2026 EmJeeTee
*/

package main

import (
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

// startProfileServer exposes the pprof handlers on localhost when --profile
// is set. It never binds a non-loopback address.
func startProfileServer(cfg *Config) {
	mux := httprouter.New()

	mux.Handler("GET", "/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", "/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", "/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", "/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", "/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", "/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", "/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", "/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", "/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", "/pprof/trace", pprof.Trace)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.profilePort))

	go func() {
		logf(cfg, "PROF: pprof listening on http://%s/pprof/", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logf(cfg, "PROF: %v", err)
		}
	}()
}

// Package health provides liveness, readiness and version endpoints for the
// Tollgate admin server.
//
//   - /healthz answers 200 while the process serves HTTP
//   - /readyz runs every registered check and answers 503 if any fails
//   - /version reports build information
//
// Usage:
//
//	checker := health.New(2 * time.Second)
//	checker.Register("store", health.StoreCheck(store))
//	health.Mount(mux, checker, health.NewVersionInfo(version, commit, date))
//
// Checks run concurrently, each bounded by the checker timeout. A check that
// does not return in time is reported unhealthy.
package health

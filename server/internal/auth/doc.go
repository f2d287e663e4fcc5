// Package auth provides API key authentication for the server's ingestion
// paths.
//
// APIKeyInterceptor(mode, header, key) guards the gRPC tag service and
// APIKeyMiddleware(mode, header, key) guards mutating REST routes. Both pass
// everything through when mode != "apikey" or key == "" (local development
// with auth disabled). A missing or wrong key yields codes.Unauthenticated
// or HTTP 401 respectively.
package auth

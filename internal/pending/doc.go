// Package pending implements the short-TTL correlation store that matches
// asynchronous device responses to the requests that caused them.
//
// Each outbound request registers its metadata under pending:{requestId}
// with an expiry appropriate to the request kind. The response validator
// looks the entry up when a response arrives and retires it once the
// response has been fully processed. Expiry is enforced by Redis's native
// TTL mechanism, so a request "cancels" implicitly when its window
// elapses - there is no explicit cancel API.
package pending

// Package offline stores server responses locally so the terminal client
// can keep answering while the server is unreachable.
//
// Requests are canonicalized (object keys sorted, insignificant whitespace
// removed) and hashed with SHA-256. The cache keeps one response per
// distinct request; a later Put for the same request overwrites it. A miss
// is not an error: Get reports found=false.
package offline

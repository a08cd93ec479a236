// Package network contains abstractions for communicating with DNS clients and the upstream
// resolver over UDP. The server side dequeues datagrams from a single listening socket and hands
// each one to a handler as a net.Conn scoped to that transaction; the client side relays a query to
// the upstream on a socket opened for that query alone.
package network

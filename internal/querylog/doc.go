// Package querylog records one QueryEvent per datagram received by the forwarder. Events are
// committed in arrival order, even though datagrams are handled concurrently, and pushed to a Sink
// that renders or persists them. Nothing inside the forwarder reads the log back.
package querylog

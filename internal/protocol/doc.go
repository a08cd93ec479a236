// Package protocol concerns itself primarily with DNS protocol-specific business logic. It contains
// the minimal wire codec needed to read a query's question name, and the handler that forwards
// client queries to the upstream resolver and relays the replies back, byte for byte.
package protocol

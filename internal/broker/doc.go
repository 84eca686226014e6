// Package broker is the distributed context: it owns one participant's
// factory and object table and turns head-side operations into collective
// calls that every participant applies in the same order.
//
// Only the head (rank 0) allocates ids and issues calls. Every rank, head
// included, serves the four lifecycle handlers bound with Bind.
package broker

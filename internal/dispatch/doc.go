// Package dispatch delivers collective calls to every participant of a group
// in one total order and reconciles their outcomes.
//
// A Channel is the only way the head talks to the group. Each participant
// serves calls through a Mux, one at a time, in sequence order.
package dispatch

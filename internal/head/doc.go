// Package head runs rank 0: it accepts participant sessions, forms the
// group and drives collective calls over TCP.
package head

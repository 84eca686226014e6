// Package participant runs a non-head rank: it joins the head's group and
// serves every collective call it is sent, in order, until shutdown.
package participant

// Package federation holds the pieces of the federation collaborator the
// runtime talks to: a record of messages in flight and a Gate that turns
// it into tag grants and barriers for one environment.
package federation

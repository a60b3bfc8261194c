// Package broadcast fans a message out to subscribers in their own languages.
//
// # Delivery semantics
//
// A broadcast translates the text once per distinct recipient language and
// delivers to every subscriber except the sender, in display-name order. A
// translation failure stops the fan-out at once and is returned to the caller;
// recipients already delivered to stay delivered. A delivery failure for one
// recipient is retried, logged and counted, and the fan-out continues.
//
// Deliveries are paced by a token-bucket limiter shared by all broadcasts.
package broadcast

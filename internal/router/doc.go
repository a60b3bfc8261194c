// Package router turns one inbound envelope into at most one reply.
//
// Order of checks:
//  1. unknown sender or empty message: dropped, no reply
//  2. activity is recorded unless the body is a recognised command or an empty
//     private message
//  3. "#name text": private message to one subscriber
//  4. "/cmd ...": dispatched through the command table if the sender's role
//     allows it, otherwise ignored without a reply
//  5. anything else is broadcast to every other subscriber
package router

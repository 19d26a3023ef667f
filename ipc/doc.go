// Package ipc carries messages between instances through named interfaces.
//
// An interface is a capability resource (capability.KindInterface). The
// instance holding its write capability may register as the provider; every
// holder of a read capability may emit requests to it. A request can ask for
// an answer, which the provider sends back with the request's ID. Each
// instance owns one bounded mailbox that receives requests, answers and
// failure notices in arrival order.
//
// When a provider goes away, every request still waiting for its answer is
// failed: the emitter receives a KindFailed message carrying the request ID.
//
// A Broker is driven from the kernel goroutine and is not safe for
// concurrent use.
package ipc

// Package bridge connects worker goroutines and subprocesses to the host
// runtime.
//
// Each worker is a host pipe process plus one Endpoint. Host to worker,
// payload handles travel as fixed-width words on the command pipe. Worker to
// host, the handle goes onto the process's side channel as a decimal token and
// a single 'r' byte on the signal pipe tells the host multiplexer that the
// filter (Dispatch) has work. Dispatch drains exactly one token per signal
// byte it is given.
//
// Shutdown is cooperative. CloseStream writes the null word; a worker blocked
// in ReceiveFromHost sees ErrConnectionAborted and exits on its own.
package bridge

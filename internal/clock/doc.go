// Package clock watches the clocks of peer nodes. Every interval it brackets
// a remote clock read between two local reads and compares consecutive
// samples of the same peer to bound how fast the remote clock runs relative
// to the local one. A single sample cannot tell network latency from clock
// offset; two samples over time can.
package clock

/*
Package cluster implements the control plane's node and match registry.

Engine nodes register at startup and heartbeat every five seconds with
their resource metrics and the state of their matches. The Monitor marks
a node OFFLINE after three missed heartbeats; an offline node may resume
heartbeating or re-register within the reattach window, after which it is
evicted and its non-terminal matches transition to ERROR.

The saturation score drives router placement:

	0.5*(matchCount/maxMatches) + 0.3*cpuUsage + 0.2*(memoryUsed/memoryMax)

clamped to [0,1]. Nodes are locked per record so heartbeats from
different nodes never contend; listings take a consistent snapshot.
*/
package cluster

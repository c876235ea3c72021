/*
Package router places matches on engine nodes and admits players.

Placement filters healthy nodes that support every requested module,
orders candidates by saturation score, registration time, and node id,
and honors a preferred-node hint when its score is within 0.1 of the
leader. A candidate that fails to accept the match is skipped; after
three attempts the route fails with PLACEMENT_FAILED. Requests whose
modules no healthy node supports fail with UNROUTABLE_MODULES.

Admission requires a RUNNING match with a free player slot. An admitted
player receives a match-scoped bearer token plus the owning node's
command and snapshot WebSocket URLs.
*/
package router

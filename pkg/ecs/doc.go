/*
Package ecs implements the columnar entity/component store that backs every
Lightning container.

Each container owns one Registry (component name/id allocation with
permission levels) and one Store. A component is a sparse column mapping
entity id to a single-precision float; the missing-value sentinel is NaN.
Module layers encode integers, booleans, and ids into floats, which keeps
the store uniform and the snapshot wire format a flat array of numbers.

# Entities

Every entity carries the built-in MATCH_ID and ENTITY_ID columns from
creation, attached under the in-process superuser principal. Module flag
components (PRIVATE markers) are attached on the same path, giving each
module an O(1) membership column to scan.

# Queries

EntitiesWith intersects columns and returns entity ids in ascending order,
which is also the stable snapshot ordering. Results are memoized in an LRU
cache (default 1024 entries) keyed structurally on the sorted component id
list; any attach or remove that changes a column's membership invalidates
exactly the cached intersections touching that column.

# Permissions

Attach and remove enforce the component permission level against the caller
principal: PRIVATE requires superuser, everything else defaults to WRITE.
Batch attaches validate every column before writing any, so a denied batch
leaves the store unchanged.

# Concurrency

MapStore itself is single-threaded; the tick scheduler owns it for the
duration of a tick. Locked wraps any Store with reader-writer semantics for
the snapshot and HTTP read paths.
*/
package ecs

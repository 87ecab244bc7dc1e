/*
Package chainbase implements a transactional, in-process object database
with multi-level undo, persisted in a memory-mapped file segment that
survives process restarts.

We implement:

1. Tables, one per registered object kind, holding live objects keyed
primarily by a sequential id and secondarily by user-declared ordered or
hashed indices.

2. Undo sessions, nestable change sets that can be pushed (kept), undone
(rolled back), or squashed (merged into the enclosing session), with
drop-time rollback via a deferred Undo.

3. The segment, a memory-mapped file of named records (one per kind plus
an environment sentinel) rewritten at every flush; durability exists only
at flush boundaries.

4. The lock manager, a ring of reader-writer mutexes with configurable
retry budgets, opt-in lock-discipline checks, and a gated escape valve
that abandons a slot starved by dead readers.

# Technical Details

**Ids.**
Each row struct carries one exported field of type ID. Ids are assigned
sequentially per kind. Undo restores the next id, so ids handed out in an
undone revision are assigned again; a kept create leaves a permanent gap
if later removed.

**Pre-images.**
The first write to an object within a session deep-copies it into the
session's undo state; later writes leave that copy untouched, so undo
always restores the value as it existed at session entry.

**Squash.**
Merging adjacent change sets keeps the older pre-image and the newer
membership: an object created then removed across the pair nets out to
nothing, an object updated twice keeps the oldest pre-image.

**On-disk layout.**
Two files in the data directory: shared_memory.bin, the segment, and
shared_memory.meta, a small mapped sidecar mirroring the lock ring slot
and serving as the writer's advisory file-lock target. A kind's record is
a bucket named after its Go type, holding a meta record (next id,
revision, footprints, xxhash checksum), the encoded objects, and the
serialized undo stack.

**Environment sentinel.**
The segment stores a 256-byte zero-padded toolchain version string plus
debug/Apple/Windows flag bytes; reopening under a different environment
refuses byte-for-byte.
*/
package chainbase

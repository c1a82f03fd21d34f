/*
Package flexilite implements a schema-flexible entity-attribute-value store on
top of an ordered key-value backend (Bolt, SQLite, or memory for tests).

Classes are defined and altered with JSON documents. Every property value is
stored as its own row keyed by (object, property, occurrence), so adding,
renaming or dropping a property never rewrites other data.

# Technical Details

**Buckets.**
All data lives in a fixed set of buckets (see allBuckets). Bolt supports them
natively; the SQLite backend keeps them all in one table keyed by
(bucket, key).

**Ids.**
Class, property and object ids come from counters in the meta bucket and are
never reused.

**Schema version.**
Every schema change bumps a persisted counter. Each connection compares it at
the start of a transaction and drops its class registry and plan cache when it
moved.

**Deferred index maintenance.**
An alteration that invalidates an index only flags the class; the next write
to the class rebuilds the flagged indexes, and the planner avoids them until
then.

## Binary encoding

**Keys** are fixed-width big-endian integers, plus an order-preserving value
encoding in the value index.

**Values**: packed value flags (uvarint), then msgpack of the value.

**Objects**: msgpack of the class id, object flags, fixed columns and
timestamps.
*/
package flexilite

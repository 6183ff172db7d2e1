// Command widesync projects a MySQL work-order schema into denormalized
// Elasticsearch documents: it tails the replication log (optionally
// seeding from a historical backfill first) and maintains one wide
// document per work order plus two side indexes.
package main

func main() {
	Execute()
}

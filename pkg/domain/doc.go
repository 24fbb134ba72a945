package domain

// domain package contains the Domain Models and Interfaces for the knitpipe application.
//
// `domain/knitpipe` package exposes root object for the application.
// Entrypoints of applications should instantiate the KnitPipe object and use it to interact with the domain.
//
// `domain/ENTITY.go` has high-level entities (Domain Model types) and functions.
// For example, `domain/entry.go` contains the `NodeEntry` entity.
//
// `domain/ENTITY/db` directory contains the interface to handle the entity in RDB,
// and `domain/ENTITY/db/postgres` implements it.
//
// # Entities
//
// Core entities in the domain are:
//
// - `node`: a typed stage of the processing graph (Monitor, LLMRelabel, Dataset, Archive).
// Nodes have named outputs, and DataChannels connect an output to another node.
// Monitor reads logged calls (model-call records) and admits a deterministic sample of them.
// LLMRelabel replaces outputs by an LLM. Dataset is a sink consumed by fine-tunes and test jobs.
//
// - `entry`: one record flowing through one channel (NodeEntry).
// Its content is stored in content-addressed tables keyed by hash,
// so identical inputs and outputs share rows.
// NodeEntry moves PENDING -> PROCESSING -> PROCESSED, or ERROR.
//
// - `pruning`: text patterns which are flagged in training inputs. Matches are tracked per entry.
//
// - `versioning`: copy-on-write replacement of an entry on relabel.
//
// - `task`: asynchronous units of work (processNode, generateTestSetEntry) in a queue backed by RDB.
// Workers are in `cmd/loops`.
//
// And others:
//
// - `finetune`: frozen snapshot of training entries for a fine-tune job.
//
// - `loop`: Manages recurring tasks. This defines constants for each loop.
//
// - `schema`: database schema version and upgrade.

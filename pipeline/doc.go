// Package pipeline provides the core online decision pipeline for apiris.
//
// # Reading Guide
//
// Start with these three files to understand the pipeline:
//   - descriptor.go: RequestDescriptor, Outcome, endpoint keys and fingerprints
//   - engine.go: DecideBefore / DecideAfter orchestration and the DecisionBundle
//   - state.go: per-endpoint rolling model state and its snapshot accessors
//
// # Architecture
//
// The pipeline package defines the models and the orchestrating engine;
// supporting implementations live in sub-packages:
//   - pipeline/forest/: randomized partition-tree ensemble scorer
//   - pipeline/cache/: TTL+LRU request cache keyed by fingerprint
//   - pipeline/advisory/: offline vendor vulnerability lookup table
//
// The engine is advisory only. It never blocks, retries, or mutates the
// underlying call: any internal fault degrades to a neutral PROCEED decision
// carrying diagnostic flags (fail-open).
//
// # Key Interfaces
//
// The extension points are small interfaces with one concrete variant each:
//   - Predictor: latency estimate from features and rolling state
//   - Detector: anomaly score and classification from features and outcome
//   - Optimizer: utility score and recommended timeout/retry/TTL knobs
package pipeline

// Package config loads the declarative manifests that drive service
// registration and dependency validation.
//
// # Manifests
//
// A services manifest enumerates registrable services:
//
//	version: "1"
//	services:
//	  - name: cache
//	    implementation: builtin.cache
//	    dependencies: [config]
//	    config:
//	      ttl: 30s
//	    when: 'has_env("REDIS_URL")'
//
// A requirements manifest enumerates what each service needs from its
// environment:
//
//	services:
//	  - service: vector_store
//	    packages:
//	      required:
//	        - module: qdrant
//	          install: go get github.com/qdrant/go-client
//	    env:
//	      required: [QDRANT_URL]
//
// Both may be written as YAML, JSON or CUE; the format is picked from the file
// extension. Every manifest is checked against struct validation rules and then
// unified with the built-in CUE schemas (#ServicesManifest and
// #RequirementsManifest). All problems are returned together in a *ManifestError.
//
// # Conditions
//
// ConditionEvaluator evaluates the Starlark expression in a service entry's
// "when" field. Besides the Starlark universe it predeclares env(name,
// default=""), has_env(name) and capability(module). Evaluation is bounded by a
// timeout and an execution step limit.
//
// # Watching
//
// Watcher notifies a callback when a watched file, or any file under a watched
// directory, changes. Bursts of writes to one file are debounced.
package config

// Package capsulegen generates structured educational content by driving
// LLM providers through a resilient three-stage pipeline: a course
// outline, a lesson plan per module, and content for every lesson.
//
// The pipeline survives misbehaving providers. Calls go through a
// per-provider circuit breaker and a classification-driven retry loop;
// malformed structured output is repaired by a cascade of recovery
// strategies; and a run snapshots its progress after every completed unit
// of work so a failed run can resume without repeating finished calls.
//
// A minimal run:
//
//	gen := capsulegen.NewGenerator(exec)
//	run := gen.NewRun(capsulegen.TopicInput("Photosynthesis"))
//	result := run.Generate(ctx)
//
// Subpackages hold the layers: generr (error taxonomy), recovery (JSON
// repair cascade), breaker (circuit breaker), llm (provider boundary and
// resilient caller), stage (stage executors), capsule (the content tree),
// checkpoint (run snapshots), config, and observability.
package capsulegen

// Package deduplication decides what happens to each task in a cluster of
// likely duplicates.
//
// # Overview
//
// Clustering (see package clustering) groups tasks whose titles are similar.
// This package takes those clusters and produces one decision per task:
// keep, delete, merge or move. Decisions are only produced here; an external
// executor applies them to the real task store.
//
// # Pipeline
//
// Each cluster goes through the same steps:
//
//  1. Exact duplicates: tasks with the same normalized title and body are
//     grouped. The highest-priority task of each group survives and the others
//     get an auto "delete" naming it as canonical.
//  2. Remaining check: if at most one task is left, it gets an auto "keep"
//     and the model is never called.
//  3. Model: the remaining tasks are rendered into a prompt, sent to the
//     model, and the reply is validated into decisions.
//
// Clusters are settled in the order given and merged left to right. A task
// decided by an earlier cluster keeps that decision.
//
// # Invocation modes
//
// Prompts are sent synchronously, one call per cluster, unless batch mode is
// enabled. In batch mode all prompts of a run go into a single batch file that
// is submitted and polled until it finishes; see ai.BatchJobManager.
//
// # Errors
//
// Problems with model output never fail a run. They are collected in
// Result.Diagnostics and the affected tasks get no decision. Transport errors
// and empty replies fail the run; nothing is retried.
//
// # Usage
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//	    return err
//	}
//	svc, err := deduplication.NewService(cfg)
//	if err != nil {
//	    return err
//	}
//	result, err := svc.Deduplicate(ctx, types.FromTasks(tasks), lists)
package deduplication

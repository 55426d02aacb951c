// Package core runs archive jobs: exporting registered tables, inspecting
// uploaded archives and restoring them into the store.
//
// It holds no transport code and is shared by the HTTP server and the CLI.
//
// # Registry
//
// A [Registry] is the ordered list of tables every export writes. It is
// filled from the ARCHIVE_TABLES setting ("name:pk,...") and, when
// discovery is enabled, from the store catalog:
//
//	reg, _ := core.NewRegistry(specs...)
//	reg.Discover(ctx, st, logger)
//
// # Jobs
//
// [Service.Export], [Service.Inspect] and [Service.Restore] each run as a
// job with a uuid id. The id is attached to every log line of the job and
// names export downloads. At most Options.MaxConcurrent jobs run at once;
// the rest wait on the [JobLimiter] and fail with [ErrTooManyJobs] after
// Options.MaxWait. Finished jobs are kept in a short in-memory history
// ([Service.Jobs]).
//
// Restore parses the whole archive before writing anything and refuses
// tables that are not registered.
//
// # Error Handling
//
// [MapError] turns archive, store and job errors into a [UserMessage] with
// a support code (ARC, STO, JOB, ERR000).
package core

// Package jobloop runs a job-dispatch loop.
//
// Applications using jobloop create a Source of job identifiers, an
// Offloader to run the jobs (usually a Pool), and a Processor that is the
// body of every job. New combines them into a Loop.
//
// Run first calls the startup collaborator, e.g. the Start method of a
// database-backed source. If that fails, Run returns an error wrapping
// ErrStartup and never polls. Then the loop repeatedly asks the source
// for the next identifier:
//
// If the identifier has not been seen in this run, the Gate admits it and
// the loop submits the job to the Offloader without waiting for it to
// finish. The loop then pauses a few times (see SetPacing) before it
// polls again. If the identifier was admitted before, the loop skips it
// and polls again right away. If the source reports ErrExhausted, the loop
// waits for the idle backoff (see SetIdleBackoff) and polls again.
//
// The loop never stops on its own. Cancel the context passed to Run to
// stop it; the loop checks the context at every pause.
//
// A Pool runs job bodies on a fixed number of worker goroutines, so long
// running jobs never hold up the loop. Its capacity is limited: when all
// workers are busy and the queue is full, Submit waits, which slows down
// admission to what the workers can handle. Outcomes are reported on
// Pool.Results and are never seen by the loop; use a Collector to drain
// them and e.g. log failures.
//
// There are database-backed sources in the "mysql", "sqlite", "mongodb"
// and "redis" packages. They read identifiers that producers added to a
// table, collection or list, and report ErrExhausted until more arrive.
package jobloop

// Package jobs holds the data model shared by the scheduler, the worker pool and the
// batch tracker: statuses, work kinds, descriptors, scopes, batches, jobs and the
// payloads carried on the job and status channels.
package jobs

// Package storage keeps the run history of scheduled jobs.
//
// It records one Run per action invocation and answers "what happened
// recently" queries. It does not persist schedules: jobs always start fresh
// from the config file.
package storage

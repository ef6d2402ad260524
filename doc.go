// Package dms implements a document submission forwarding service. Clients
// upload a PDF plus routing metadata; the service packages each submission
// into a zip with a metadata XML, uploads it to an object store, notifies the
// downstream SDES file-delivery system, tracks the submission through a
// durable state machine and calls the client back when it reaches a terminal
// state.
//
// The root package holds the shared domain types (SubmissionItem and its
// status DAG), the Repository/ObjectStore/Cache interfaces, configuration and
// small cross-cutting helpers. Feature packages: cassandra & inmemory
// (repositories), aws_s3 (object store), redis (cache), packaging (zip +
// metadata XML), sdes & callback (outbound clients), submit (the synchronous
// pipeline), workers & scheduler (the periodic jobs) and restapi (the HTTP
// surface).
package dms

// Package server provides the HTTP administrative API.
//
// The API is a thin adapter over the template, instance and prompt queue
// services and the engine. Queues can be inspected and edited but never
// popped: consuming a prompt is the dispatcher's job.
package server

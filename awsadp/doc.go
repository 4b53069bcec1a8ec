// Package awsadp provides AWS adapters for promptloop interfaces.
//
// S3Recorder: implements promptloop.Recorder, storing run transcripts as
// JSONL objects in S3.
//
// The adapter is compatible with minio for local development.
package awsadp

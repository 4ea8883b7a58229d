// Package api exposes the ingestion subsystem over HTTP: CSV and statement
// imports for users and job administration for operators. Handlers only
// translate between HTTP and the service packages; caller identity is
// supplied upstream in the X-User-ID header.
package api

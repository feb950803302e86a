// Package util provides small helpers shared by the server, storage and plugin
// packages: log-safe truncation of credentials and classification of redirect
// URI hosts.
package util

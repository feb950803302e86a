// Package testutil provides test fixtures and HTTP helpers shared by the
// package tests of this module.
package testutil

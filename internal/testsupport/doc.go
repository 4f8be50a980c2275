// Package testsupport holds fixtures shared by package tests: temp-dir
// configurations, stub worker scripts, and seeded check-in records.
package testsupport

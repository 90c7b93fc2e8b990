// Package domain defines core data models and interfaces shared across huddle.
// It contains plain types (wire/state), contracts (interfaces) and the error
// kinds every service reports.
package domain

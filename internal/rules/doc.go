// Package rules evaluates parsed design metrics against a preset's
// thresholds and scores the result. Evaluation is pure and deterministic:
// the same metrics and preset always produce the same findings, in the same
// order, with the same score.
package rules

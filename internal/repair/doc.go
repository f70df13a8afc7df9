// Package repair catches a lagging learner up with the values its peers have
// already learned. Reported values are reconciled per sequence: a sequence
// every reporter agrees on is learned locally, a sequence with more than one
// distinct value is left for the corruption detector.
package repair

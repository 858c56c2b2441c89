// Package slo computes uptime, error budget, and burn rates over rolling
// check-result windows.
//
// Burn rate is the ratio of the observed error rate to the error rate the
// SLO target allows: 1.0× consumes the budget exactly on pace, >1× exhausts
// it early. The short (1h) window gates the Critical level and the long (6h)
// window gates Warning, the standard fast-burn/slow-burn pairing.
package slo

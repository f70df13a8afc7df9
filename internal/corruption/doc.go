// Package corruption analyzes the persisted Paxos history of the cluster for
// safety violations and turns the findings into an admission decision.
//
// The LocalDetector runs the analysis on a schedule. Once it finds a
// violation its status becomes DefinitiveCorruptionDetectedByLocal and stays
// there for the lifetime of the detector, so a false positive holds until the
// process restarts. Peers are told on every cycle that still sees corruption.
// The RemoteDetector records reports from those peers.
// HealthCheck combines both into the ShouldRejectRequests hook consulted by
// the request path.
package corruption

package metrics

import "time"

// Verification records the outcome of one contract verification.
func Verification(result, kind string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(result, kind).Inc()
}

// CompilerLoad records a compiler module load.
func CompilerLoad(source string, d time.Duration) {
	if !enabled {
		return
	}
	compilerLoadTotal.WithLabelValues(source).Inc()
	compilerLoadDuration.WithLabelValues(source).Observe(d.Seconds())
}

// WorkerSession records the end of a worker session.
func WorkerSession(outcome string) {
	if !enabled {
		return
	}
	workerSessionsTotal.WithLabelValues(outcome).Inc()
}

// SlotTransition moves one slot between states in the worker_slots gauge.
// An empty from means the slot is new.
func SlotTransition(from, to string) {
	if !enabled {
		return
	}
	if from != "" {
		workerSlots.WithLabelValues(from).Dec()
	}
	if to != "" {
		workerSlots.WithLabelValues(to).Inc()
	}
}

// RPCRequest records a JSON-RPC call.
func RPCRequest(network, method, status string) {
	if !enabled {
		return
	}
	rpcRequestsTotal.WithLabelValues(network, method, status).Inc()
}

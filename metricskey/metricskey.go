package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfSessionAcquire is perf metric for session pool acquisition
	PerfSessionAcquire = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_p11_session",
		Help:         "perf_p11_session provides the sample metrics of session pool operations",
		RequiredTags: []string{"action"},
	}

	// PerfSlotOperation is perf metric for slot and token lifecycle operations
	PerfSlotOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_p11_slot",
		Help:         "perf_p11_slot provides the sample metrics of slot and token operations",
		RequiredTags: []string{"action"},
	}

	// PerfAuthOperation is perf metric for login and logout operations
	PerfAuthOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_p11_auth",
		Help:         "perf_p11_auth provides the sample metrics of authentication operations",
		RequiredTags: []string{"action"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfSessionAcquire,
	&PerfSlotOperation,
	&PerfAuthOperation,
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcessRestartsTotal tracks supervised process restarts.
	ProcessRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_process_restarts_total",
		Help: "Supervised process restarts by process name",
	}, []string{"process"})

	// ProcessUp reflects whether each supervised process is running.
	ProcessUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "farmgw_process_up",
		Help: "1 while the supervised process is running",
	}, []string{"process"})

	// ProcTerminateTotal tracks termination signals sent to process groups.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_proc_terminate_total",
		Help: "Termination signals sent to supervised process groups",
	}, []string{"signal", "outcome"})

	// ProcWaitTotal tracks how supervised processes ended.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_proc_wait_total",
		Help: "Supervised process wait results",
	}, []string{"result"})
)

// IncProcessRestart records one restart of a supervised process.
func IncProcessRestart(process string) {
	ProcessRestartsTotal.WithLabelValues(process).Inc()
}

// IncProcTerminate records one termination signal and its outcome.
func IncProcTerminate(signal, outcome string) {
	ProcTerminateTotal.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records one process wait result.
func IncProcWait(result string) {
	ProcWaitTotal.WithLabelValues(result).Inc()
}

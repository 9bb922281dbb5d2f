package upload

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_uploads_started_total",
		Help: "Total number of chunked uploads started",
	})

	uploadsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_uploads_finished_total",
		Help: "Total number of uploads finished successfully",
	})

	uploadsCanceled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_uploads_canceled_total",
		Help: "Total number of uploads canceled",
	})

	reconcilerRepairs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_reconciler_repairs_total",
		Help: "Total number of chunk-chain tail repairs",
	})

	rangeRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_upload_range_rejections_total",
		Help: "Total number of appends rejected with a range error",
	})

	bytesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapreg_upload_bytes_accepted_total",
		Help: "Total bytes accepted across all uploads",
	})
)

func init() {
	prometheus.MustRegister(
		uploadsStarted,
		uploadsFinished,
		uploadsCanceled,
		reconcilerRepairs,
		rangeRejections,
		bytesAccepted,
	)
}

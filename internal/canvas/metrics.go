package canvas

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ElementsCreated       prometheus.Counter
	FramesCreated         prometheus.Counter
	CrossCanvasViolations prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ElementsCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "loom_canvas_elements_created_total",
				Help: "Total number of canvas elements created",
			}),
			FramesCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "loom_canvas_frames_created_total",
				Help: "Total number of canvas frames created",
			}),
			CrossCanvasViolations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "loom_canvas_cross_canvas_violations_total",
				Help: "Total number of rejected cross-canvas mutations",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) RecordElement() {
	if m == nil || m.ElementsCreated == nil {
		return
	}
	m.ElementsCreated.Inc()
}

func (m *Metrics) RecordFrame() {
	if m == nil || m.FramesCreated == nil {
		return
	}
	m.FramesCreated.Inc()
}

func (m *Metrics) RecordCrossCanvasViolation() {
	if m == nil || m.CrossCanvasViolations == nil {
		return
	}
	m.CrossCanvasViolations.Inc()
}

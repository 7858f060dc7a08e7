// Package metrics exposes published bridge states as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

// Exporter holds the bridge gauges on its own registry.
type Exporter struct {
	reg *prometheus.Registry

	vehicleSignal *prometheus.GaugeVec
	chargerSignal *prometheus.GaugeVec
	busAlive      *prometheus.GaugeVec
	troubleCodes  *prometheus.GaugeVec
	mil           prometheus.Gauge
	targetAmps    prometheus.Gauge
	committedAmps prometheus.Gauge
	safe          prometheus.Gauge
	cycles        prometheus.Counter
}

// New registers the bridge metrics on a fresh registry.
func New() *Exporter {
	e := &Exporter{
		reg: prometheus.NewRegistry(),
		vehicleSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashbridge_vehicle_signal",
			Help: "Latest OBD-II signal value in engineering units",
		}, []string{"signal"}),
		chargerSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashbridge_charger_signal",
			Help: "Latest charger register value in engineering units",
		}, []string{"signal"}),
		busAlive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashbridge_bus_alive",
			Help: "1 if at least one exchange on the bus succeeded in the last cycle",
		}, []string{"bus"}),
		troubleCodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashbridge_trouble_codes",
			Help: "Number of trouble codes reported by the last scan",
		}, []string{"kind"}),
		mil: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashbridge_mil_on",
			Help: "Malfunction indicator lamp state",
		}),
		targetAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashbridge_charge_target_amps",
			Help: "Charge current chosen by the controller (A)",
		}),
		committedAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashbridge_charge_committed_amps",
			Help: "Last charge current acknowledged by the charger (A)",
		}),
		safe: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashbridge_charge_safe",
			Help: "1 if the charger passed every safety check",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashbridge_cycles_total",
			Help: "Poll cycles completed",
		}),
	}
	e.reg.MustRegister(
		e.vehicleSignal, e.chargerSignal, e.busAlive, e.troubleCodes,
		e.mil, e.targetAmps, e.committedAmps, e.safe, e.cycles,
	)
	return e
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.reg }

// Update copies one state into the gauges. Unknown readings remove their
// series so stale values are not scraped.
func (e *Exporter) Update(st *bridge.State) {
	if st == nil || st.Snapshot == nil {
		return
	}
	s := st.Snapshot
	setFields(e.vehicleSignal, s.Vehicle.Fields())
	setFields(e.chargerSignal, s.Charger.Fields())

	e.busAlive.WithLabelValues("can").Set(boolGauge(s.CANAlive))
	e.busAlive.WithLabelValues("rs485").Set(boolGauge(s.RegisterAlive))
	e.troubleCodes.WithLabelValues("stored").Set(float64(len(s.Codes.Stored)))
	e.troubleCodes.WithLabelValues("pending").Set(float64(len(s.Codes.Pending)))
	if s.Codes.MIL != nil {
		e.mil.Set(boolGauge(s.Codes.MIL.On))
	}

	e.targetAmps.Set(st.Decision.TargetAmps)
	e.committedAmps.Set(st.Committed.Or(0))
	e.safe.Set(boolGauge(st.Decision.Safe))
	e.cycles.Inc()
}

// Run feeds the exporter from the runner until ctx is done.
func (e *Exporter) Run(ctx context.Context, states <-chan *bridge.State) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			e.Update(st)
		}
	}
}

func setFields(vec *prometheus.GaugeVec, fields []vehicle.Field) {
	for _, f := range fields {
		if !f.Reading.Valid {
			vec.DeleteLabelValues(f.Name)
			continue
		}
		vec.WithLabelValues(f.Name).Set(f.Reading.Value)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package settings

import "github.com/prometheus/client_golang/prometheus"

// RegisterMetrics exposes which layer the current settings were loaded from.
// Exactly one source series reads 1 at a time.
func RegisterMetrics(reg prometheus.Registerer, s *Service) error {
	for _, src := range []Source{SourceDatabase, SourceMirror, SourceDefault} {
		src := src
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "selinggonet_settings_source",
			Help:        "Sumber pengaturan aplikasi yang sedang dipakai.",
			ConstLabels: prometheus.Labels{"source": string(src)},
		}, func() float64 {
			if s.Source() == src {
				return 1
			}
			return 0
		})
		if err := reg.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}

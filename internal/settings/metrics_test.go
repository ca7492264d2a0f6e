package settings_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/selinggonet/selinggonet/internal/settings"
)

func TestRegisterMetricsTracksSource(t *testing.T) {
	store := &stubStore{row: &settings.AppSettings{ID: 1, AppName: "NetKu"}}
	svc, _ := newService(t, store)
	reg := prometheus.NewRegistry()
	require.NoError(t, settings.RegisterMetrics(reg, svc))

	svc.Load(context.Background())
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP selinggonet_settings_source Sumber pengaturan aplikasi yang sedang dipakai.
# TYPE selinggonet_settings_source gauge
selinggonet_settings_source{source="database"} 1
selinggonet_settings_source{source="default"} 0
selinggonet_settings_source{source="mirror"} 0
`), "selinggonet_settings_source"))

	store.getErr = errors.New("down")
	svc.Load(context.Background())
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP selinggonet_settings_source Sumber pengaturan aplikasi yang sedang dipakai.
# TYPE selinggonet_settings_source gauge
selinggonet_settings_source{source="database"} 0
selinggonet_settings_source{source="default"} 0
selinggonet_settings_source{source="mirror"} 1
`), "selinggonet_settings_source"))
}

func TestRegisterMetricsRejectsDoubleRegistration(t *testing.T) {
	svc, _ := newService(t, &stubStore{})
	reg := prometheus.NewRegistry()
	require.NoError(t, settings.RegisterMetrics(reg, svc))
	require.Error(t, settings.RegisterMetrics(reg, svc))
}

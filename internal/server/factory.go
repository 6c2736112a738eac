package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matheuscscp/praise-prison/internal/auth"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/metrics"
	"github.com/matheuscscp/praise-prison/internal/provider/factory"
)

func New(conf *config.Config) (*http.Server, error) {
	p, err := factory.New(conf.Backend.Provider)
	if err != nil {
		return nil, err
	}
	m := metrics.NewCollector(prometheus.DefaultRegisterer)
	api, err := newAPI(conf, p, auth.NewFactory(conf, nil), restStores(conf), m, time.Now)
	if err != nil {
		return nil, err
	}
	return newServer(conf, api, m, prometheus.DefaultGatherer), nil
}

package main

import (
	"qms/qalert/internal/config"
	"qms/qalert/internal/notify"
)

func newDeliverer(cfg config.Config, subjects notify.SubjectLister) *notify.Deliverer {
	gateway := notify.NewGateway(notify.GatewayConfig{
		Kind:    cfg.NotifyGateway,
		URL:     cfg.NotifyURL,
		Token:   cfg.NotifyToken,
		Timeout: cfg.ExternalTimeout(),
	})
	return notify.NewDeliverer(subjects, gateway, notify.LogSink{}, notify.DeliverOptions{
		From:        cfg.NotifyFrom,
		CountryCode: cfg.NotifyCountryCode,
		Language:    cfg.NotifyLanguage,
		Template:    cfg.NotifyTemplate,
		Timeout:     cfg.ExternalTimeout(),
	})
}

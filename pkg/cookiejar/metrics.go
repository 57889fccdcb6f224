// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cookiejar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDirty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cookiemonster",
		Subsystem: "queue",
		Name:      "dirty",
		Help:      "Number of objects currently in the dirty set awaiting reservation.",
	})

	queueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cookiemonster",
		Subsystem: "queue",
		Name:      "in_flight",
		Help:      "Number of objects currently reserved by a worker.",
	})
)

func (j *CookieJar) reportQueueDepth() {
	dirty, inFlight := j.Length()
	queueDirty.Set(float64(dirty))
	queueInFlight.Set(float64(inFlight))
}

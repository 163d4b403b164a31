// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return m.Counter.GetValue()
}

func TestNew_RegistersAllMetrics(t *testing.T) {
	r := New()
	mfs, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 8 {
		t.Errorf("len(metric families) = %d, want 8", len(mfs))
	}
}

func TestRegistry_ActivePeersGaugeTracksSetValue(t *testing.T) {
	r := New()
	r.ActivePeers.Set(3)
	if got := gaugeValue(t, r.ActivePeers); got != 3 {
		t.Errorf("ActivePeers = %v, want 3", got)
	}
}

func TestRegistry_CountersAccumulate(t *testing.T) {
	r := New()
	r.BytesTransferred.Add(1024)
	r.BytesTransferred.Add(2048)
	if got := gaugeValue(t, r.BytesTransferred); got != 3072 {
		t.Errorf("BytesTransferred = %v, want 3072", got)
	}
}

package service

import (
	"time"

	"inferd/internal/accel"
	"inferd/internal/resource"
	"inferd/pkg/types"
)

// StatusReporter is anything that can snapshot its slot.
type StatusReporter interface {
	Status() resource.SlotSnapshot
}

// Aggregator collects slot snapshots into the /status payload.
type Aggregator struct {
	device  accel.Device
	started time.Time
	slots   []StatusReporter
}

func NewAggregator(device accel.Device, slots ...StatusReporter) *Aggregator {
	return &Aggregator{device: device, started: time.Now(), slots: slots}
}

func (a *Aggregator) Status() types.StatusResponse {
	now := time.Now()
	resp := types.StatusResponse{
		Device:         a.device.Name(),
		UptimeSeconds:  int64(now.Sub(a.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	for _, s := range a.slots {
		snap := s.Status()
		st := types.SlotStatus{
			Service:    snap.Service,
			State:      snap.State,
			Source:     snap.Source,
			Loads:      snap.Loads,
			Inferences: snap.Inferences,
			LastError:  snap.LastError,
		}
		if !snap.LoadedAt.IsZero() {
			st.LoadedAt = snap.LoadedAt.Unix()
		}
		resp.Slots = append(resp.Slots, st)
	}
	return resp
}

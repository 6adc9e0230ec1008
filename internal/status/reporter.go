// Package status assembles the read-only SystemStatus snapshot.
package status

import (
	"context"

	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/network"
	"github.com/mmartingarciia/retroducer/internal/playback"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

type PlaybackSource interface {
	Snapshot() playback.Snapshot
}

type UploadSource interface {
	Active() (upload.Session, bool)
}

// UsageSource reports storage capacity. storage.StorageProvider satisfies it.
type UsageSource interface {
	Usage(ctx context.Context) (models.StorageUsage, error)
}

// Reporter reads state from its sources and never mutates them.
type Reporter struct {
	playback PlaybackSource
	uploads  UploadSource
	network  network.Interface
	usage    UsageSource
}

func NewReporter(pb PlaybackSource, up UploadSource, nw network.Interface, usage UsageSource) *Reporter {
	return &Reporter{playback: pb, uploads: up, network: nw, usage: usage}
}

// Report builds the status at call time. Failures of the network or
// storage collaborators degrade single fields instead of failing.
func (r *Reporter) Report(ctx context.Context) models.SystemStatus {
	snap := r.playback.Snapshot()
	st := models.SystemStatus{
		Status:        "online",
		PlaybackState: snap.State.String(),
		SourcePath:    snap.SourcePath,
		Volume:        snap.Volume,
		BytesConsumed: snap.BytesConsumed,
	}
	if snap.LastError != nil {
		st.LastError = snap.LastError.Error()
	}

	if ns, err := r.network.Status(); err != nil {
		logger.Debug("Status: network state unavailable: %v", err)
		st.NetworkState = models.NetworkUnknown
		st.IP = models.NetworkUnknown
	} else {
		st.NetworkState = ns.State
		st.SSID = ns.SSID
		st.IP = ns.IP
	}

	if r.uploads != nil {
		if s, ok := r.uploads.Active(); ok {
			st.Uploading = s.Path
		}
	}

	if r.usage != nil {
		if u, err := r.usage.Usage(ctx); err == nil {
			st.FsFree = &u.Free
			st.FsTotal = &u.Total
		}
	}
	return st
}

package cloudflare

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dlib/dtime"

	"github.com/inean/dns-synchub/pkg/hostfilter"
	"github.com/inean/dns-synchub/pkg/settings"
)

// sleep is swapped out by tests.
var sleep = dtime.SleepWithContext

// Updater reconciles one hostname at a time against every configured zone.
type Updater struct {
	client         API
	zones          []settings.Zone
	filter         *hostfilter.Filter
	recordType     string
	refreshEntries bool
	dryRun         bool
	maxRetries     int
}

func NewUpdater(client API, cfg *settings.Settings) *Updater {
	return &Updater{
		client:         client,
		zones:          cfg.Domains,
		filter:         hostfilter.New(cfg.TraefikIncludedHosts, cfg.TraefikExcludedHosts),
		recordType:     cfg.RecordType,
		refreshEntries: cfg.RefreshEntries,
		dryRun:         cfg.DryRun,
		maxRetries:     cfg.MaxRetries,
	}
}

// SyncHost makes host point at its target in every zone that accepts it.
// Failures are isolated per zone: a bad pair is logged and skipped while the
// remaining zones still get their records. Returns true only when every pair
// succeeded.
func (u *Updater) SyncHost(ctx context.Context, host string) bool {
	ok := true
	for i := range u.zones {
		zone := &u.zones[i]
		if !u.filter.Accept(ctx, host, zone) {
			continue
		}
		if err := u.syncPair(ctx, host, zone); err != nil {
			dlog.Errorf(ctx, "** %s: %v", host, err)
			ok = false
		}
	}
	return ok
}

func (u *Updater) syncPair(ctx context.Context, host string, zone *settings.Zone) error {
	records, err := u.getRecords(ctx, zone.ZoneID, host)
	if err != nil {
		return err
	}

	data := Record{
		Type:    u.recordType,
		Name:    host,
		Content: zone.TargetDomain,
		TTL:     zone.TTL,
		Proxied: zone.Proxied,
		Comment: zone.Comment,
	}

	if u.refreshEntries && len(records) > 0 {
		var result *multierror.Error
		for _, rec := range records {
			result = multierror.Append(result, u.putRecord(ctx, zone.ZoneID, rec.ID, data))
		}
		return result.ErrorOrNil()
	}
	return u.postRecord(ctx, zone.ZoneID, data)
}

// getRecords reads the existing records for host, backing off 2^(retry+1)
// seconds on every rate-limit answer up to maxRetries sleeps.
func (u *Updater) getRecords(ctx context.Context, zoneID, host string) ([]Record, error) {
	for retry := 0; retry <= u.maxRetries; retry++ {
		records, err := u.client.DNSRecords(ctx, zoneID, host)
		if err == nil {
			return records, nil
		}
		if !IsRateLimited(err) {
			return nil, err
		}
		if retry == u.maxRetries {
			break
		}
		delay := time.Duration(1<<uint(retry+1)) * time.Second
		dlog.Warnf(ctx, "Rate limit reached, retrying in %s...", delay)
		sleep(ctx, delay)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, errors.Errorf("max retries exceeded reading records for %s", host)
}

func (u *Updater) postRecord(ctx context.Context, zoneID string, data Record) error {
	if u.dryRun {
		dlog.Infof(ctx, "DRY-RUN: POST to zone %s: %+v", zoneID, data)
		return nil
	}
	if err := u.client.CreateDNSRecord(ctx, zoneID, data); err != nil {
		return err
	}
	recordsCreated.Inc()
	dlog.Infof(ctx, "Created new record in zone %s with data %+v", zoneID, data)
	return nil
}

func (u *Updater) putRecord(ctx context.Context, zoneID, recordID string, data Record) error {
	if u.dryRun {
		dlog.Infof(ctx, "DRY-RUN: PUT to zone %s record %s: %+v", zoneID, recordID, data)
		return nil
	}
	if err := u.client.UpdateDNSRecord(ctx, zoneID, recordID, data); err != nil {
		return err
	}
	recordsUpdated.Inc()
	dlog.Infof(ctx, "Updated record %s in zone %s with data %+v", recordID, zoneID, data)
	return nil
}

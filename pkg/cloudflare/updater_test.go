package cloudflare

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/dlib/dlog"

	"github.com/inean/dns-synchub/pkg/settings"
)

type call struct {
	method   string
	zoneID   string
	recordID string
	data     Record
}

// fakeAPI scripts DNSRecords answers per zone and records every mutation.
type fakeAPI struct {
	records map[string][]Record
	getErrs []error

	calls []call
}

func (f *fakeAPI) DNSRecords(_ context.Context, zoneID, name string) ([]Record, error) {
	f.calls = append(f.calls, call{method: "GET", zoneID: zoneID})
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.records[zoneID], nil
}

func (f *fakeAPI) CreateDNSRecord(_ context.Context, zoneID string, rec Record) error {
	f.calls = append(f.calls, call{method: "POST", zoneID: zoneID, data: rec})
	return nil
}

func (f *fakeAPI) UpdateDNSRecord(_ context.Context, zoneID, recordID string, rec Record) error {
	f.calls = append(f.calls, call{method: "PUT", zoneID: zoneID, recordID: recordID, data: rec})
	return nil
}

func (f *fakeAPI) methods() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) {
		slept = append(slept, d)
	}
	t.Cleanup(func() { sleep = orig })
	return &slept
}

func updaterSettings(t *testing.T, extra map[string]string) *settings.Settings {
	t.Helper()
	env := map[string]string{
		"CF_TOKEN":            "token",
		"TARGET_DOMAIN":       "target.example.com",
		"DOMAINS__0__NAME":    "example.com",
		"DOMAINS__0__ZONE_ID": "Z1",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := settings.Load(context.Background(), settings.WithLookuper(envconfig.MapLookuper(env)))
	require.NoError(t, err)
	return cfg
}

func TestSyncHostTargetDomainMatch(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{}
	u := NewUpdater(api, updaterSettings(t, nil))

	assert.True(t, u.SyncHost(ctx, "target.example.com"))
	assert.Empty(t, api.calls, "the target itself must never be touched")
}

func TestSyncHostExcludedSubDomain(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{}
	u := NewUpdater(api, updaterSettings(t, map[string]string{
		"DOMAINS__0__EXCLUDED_SUB_DOMAINS": "sub",
	}))

	assert.True(t, u.SyncHost(ctx, "sub.example.com"))
	assert.Empty(t, api.calls)
}

func TestSyncHostCreatesNewRecord(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{}
	u := NewUpdater(api, updaterSettings(t, nil))

	assert.True(t, u.SyncHost(ctx, "new.example.com"))
	require.Equal(t, []string{"GET", "POST"}, api.methods())

	post := api.calls[1]
	assert.Equal(t, "Z1", post.zoneID)
	assert.Equal(t, Record{
		Type:    "CNAME",
		Name:    "new.example.com",
		Content: "target.example.com",
		TTL:     1,
		Proxied: true,
	}, post.data)
}

func TestSyncHostRefreshUpdatesExistingRecords(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{records: map[string][]Record{
		"Z1": {{ID: "R1"}},
	}}
	u := NewUpdater(api, updaterSettings(t, map[string]string{
		"REFRESH_ENTRIES": "true",
	}))

	assert.True(t, u.SyncHost(ctx, "existing.example.com"))
	require.Equal(t, []string{"GET", "PUT"}, api.methods())
	assert.Equal(t, "R1", api.calls[1].recordID)
}

func TestSyncHostRefreshWithoutRecordsCreates(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{}
	u := NewUpdater(api, updaterSettings(t, map[string]string{
		"REFRESH_ENTRIES": "true",
	}))

	assert.True(t, u.SyncHost(ctx, "new.example.com"))
	assert.Equal(t, []string{"GET", "POST"}, api.methods())
}

func TestSyncHostWithoutRefreshAppendsEvenWhenRecordsExist(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{records: map[string][]Record{
		"Z1": {{ID: "R1"}},
	}}
	u := NewUpdater(api, updaterSettings(t, nil))

	assert.True(t, u.SyncHost(ctx, "existing.example.com"))
	assert.Equal(t, []string{"GET", "POST"}, api.methods())
}

func TestSyncHostRateLimitRetry(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	slept := stubSleep(t)

	rateLimited := &APIError{StatusCode: 429, Message: "Rate limited"}
	api := &fakeAPI{getErrs: []error{rateLimited, rateLimited, nil}}
	u := NewUpdater(api, updaterSettings(t, nil))

	assert.True(t, u.SyncHost(ctx, "rl.example.com"))
	assert.Equal(t, []string{"GET", "GET", "GET", "POST"}, api.methods())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestSyncHostRateLimitBoundary(t *testing.T) {
	rateLimited := &APIError{StatusCode: 429, Message: "Rate limited"}

	t.Run("max-retries-then-success", func(t *testing.T) {
		ctx := dlog.NewTestContext(t, false)
		stubSleep(t)
		errs := make([]error, 0, 6)
		for i := 0; i < 5; i++ {
			errs = append(errs, rateLimited)
		}
		errs = append(errs, nil)
		api := &fakeAPI{getErrs: errs}
		u := NewUpdater(api, updaterSettings(t, nil))

		assert.True(t, u.SyncHost(ctx, "rl.example.com"))
		assert.Equal(t, 6, len(api.calls)-1, "five rate limits, one successful read")
	})

	t.Run("one-more-fails", func(t *testing.T) {
		ctx := dlog.NewTestContext(t, false)
		stubSleep(t)
		errs := make([]error, 0, 7)
		for i := 0; i < 6; i++ {
			errs = append(errs, rateLimited)
		}
		errs = append(errs, nil)
		api := &fakeAPI{getErrs: errs}
		u := NewUpdater(api, updaterSettings(t, nil))

		assert.False(t, u.SyncHost(ctx, "rl.example.com"))
		assert.NotContains(t, api.methods(), "POST")
	})
}

func TestSyncHostDryRun(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{}
	u := NewUpdater(api, updaterSettings(t, map[string]string{
		"DRY_RUN": "true",
	}))

	assert.True(t, u.SyncHost(ctx, "dryrun.example.com"))
	assert.Equal(t, []string{"GET"}, api.methods(), "dry run still reads but never writes")
}

func TestSyncHostOtherErrorFailsPairButContinues(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{getErrs: []error{&APIError{StatusCode: 400, Message: "bad zone"}}}
	u := NewUpdater(api, updaterSettings(t, map[string]string{
		"DOMAINS__1__NAME":    "example.com",
		"DOMAINS__1__ZONE_ID": "Z2",
	}))

	assert.False(t, u.SyncHost(ctx, "app.example.com"))

	// The first zone failed its read, the second one still got its record.
	assert.Equal(t, []string{"GET", "GET", "POST"}, api.methods())
	assert.Equal(t, "Z2", api.calls[2].zoneID)
}

func TestSyncHostMultipleZones(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	api := &fakeAPI{}
	u := NewUpdater(api, updaterSettings(t, map[string]string{
		"DOMAINS__1__NAME":          "example.org",
		"DOMAINS__1__ZONE_ID":       "Z2",
		"DOMAINS__1__TARGET_DOMAIN": "lb.example.org",
	}))

	// Only the zone whose name the hostname contains gets a record.
	assert.True(t, u.SyncHost(ctx, "app.example.org"))
	require.Equal(t, []string{"GET", "POST"}, api.methods())
	assert.Equal(t, "Z2", api.calls[0].zoneID)
	assert.Equal(t, "lb.example.org", api.calls[1].data.Content)
}
